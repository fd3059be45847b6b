package graphdef

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/batchexec"
	"github.com/forgeflow/orchestrator/internal/domain"
)

// developerNode is the Batch Executor stage (spec.md §4.4 node 4, §4.5): it
// executes exactly one full batch per invocation (internal/batchexec
// already runs every step in a batch in one call, surfacing a blocker
// rather than stopping mid-batch), then routes per the conditional edge
// table.
func developerNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	executor := batchexec.New(deps.WorktreePath, deps.Semantic)

	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.Plan == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("developer: no plan in state")}
		}
		if state.CurrentBatchIndex >= len(state.Plan.Batches) {
			return graph.NodeResult[domain.ExecutionState]{
				Delta: domain.ExecutionState{DeveloperStatus: domain.DeveloperAllDone},
				Route: graph.Goto(NodeReviewer),
			}
		}

		batch := state.Plan.Batches[state.CurrentBatchIndex]

		snap, err := deps.Repo.Snapshot(ctx)
		if err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("developer: snapshot worktree: %w", err)}
		}

		emitEvent(ctx, deps.Bus, domain.EventStageStarted,
			fmt.Sprintf("developer: executing batch %d", batch.Number), map[string]interface{}{"batch": batch.Number})

		result := executor.ExecuteBatch(ctx, batch, state.SkippedStepIDs, priorCompletedSteps(state, batch.Number))

		delta := domain.ExecutionState{
			GitSnapshotBeforeBatch: &snap,
			BatchResults:           []domain.BatchResult{result},
		}

		if result.Status == domain.BatchBlocked {
			delta.CurrentBlocker = result.Blocker
			delta.DeveloperStatus = domain.DeveloperBlocked
			emitEvent(ctx, deps.Bus, domain.EventStageCompleted,
				fmt.Sprintf("developer: batch %d blocked", batch.Number), map[string]interface{}{"batch": batch.Number})
			return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Goto(NodeBlockerResolution)}
		}

		emitEvent(ctx, deps.Bus, domain.EventStageCompleted,
			fmt.Sprintf("developer: batch %d complete", batch.Number), map[string]interface{}{"batch": batch.Number})

		nextIndex := state.CurrentBatchIndex + 1
		delta.CurrentBatchIndex = nextIndex

		if nextIndex >= len(state.Plan.Batches) {
			delta.DeveloperStatus = domain.DeveloperAllDone
			return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Goto(NodeReviewer)}
		}

		delta.DeveloperStatus = domain.DeveloperBatchComplete
		nextBatch := state.Plan.Batches[nextIndex]

		// spec.md §4.4 node 4's trust-level check: a disabled checkpoint
		// always re-enters developer; an enabled one only skips the human
		// gate when the next batch is low-risk under an autonomous profile.
		autoContinue := !state.Profile.BatchCheckpoint ||
			(state.Profile.Trust == domain.TrustAutonomous && nextBatch.RiskSummary == domain.RiskLow)
		if autoContinue {
			return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Goto(NodeDeveloper)}
		}

		emitEvent(ctx, deps.Bus, domain.EventApprovalRequired,
			fmt.Sprintf("batch %d awaiting approval", nextBatch.Number), map[string]interface{}{"batch": nextBatch.Number})
		return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Goto(NodeBatchApproval)}
	}
}

// batchApprovalNode is an interrupt-before node (spec.md §4.4 node 5).
func batchApprovalNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		approved := state.HumanApproved != nil && *state.HumanApproved
		// developer already advanced CurrentBatchIndex to the batch this
		// checkpoint is gating entry to (spec.md's six-scenario Scenario 6:
		// "exactly 1 BatchApproval (for batch2, index 1)"), so the approval
		// names that batch's own declared Number, matching the convention
		// BatchResult.BatchNumber already uses (internal/batchexec sets it
		// from batch.Number, never from the plan's array index).
		batchNumber := state.Plan.Batches[state.CurrentBatchIndex].Number

		approval := domain.BatchApproval{
			BatchNumber: batchNumber,
			Approved:    approved,
			Feedback:    state.RejectFeedback,
		}

		if approved {
			emitEvent(ctx, deps.Bus, domain.EventApprovalGranted,
				fmt.Sprintf("batch %d approved", batchNumber), map[string]interface{}{"batch": batchNumber})
			return graph.NodeResult[domain.ExecutionState]{
				Delta: domain.ExecutionState{
					BatchApprovals:     []domain.BatchApproval{approval},
					ClearHumanApproved: true,
				},
				Route: graph.Goto(NodeDeveloper),
			}
		}

		emitEvent(ctx, deps.Bus, domain.EventApprovalRejected,
			fmt.Sprintf("batch %d rejected", batchNumber), map[string]interface{}{"batch": batchNumber, "feedback": state.RejectFeedback})
		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{
				BatchApprovals:     []domain.BatchApproval{approval},
				ClearHumanApproved: true,
			},
			Route: graph.Stop(),
		}
	}
}

// priorCompletedSteps finds the most recent BatchResult for batchNumber and,
// if it stopped on a blocker, returns the steps that ran to completion
// before the block so a retry after blocker resolution (spec.md §4.5
// "Recovery from a blocker") resumes instead of re-running steps with
// side effects already applied. The step that caused the block is
// deliberately excluded: it still needs to be re-evaluated against the
// resolution just applied (skipped, or retried fresh).
func priorCompletedSteps(state domain.ExecutionState, batchNumber int) []domain.StepResult {
	for i := len(state.BatchResults) - 1; i >= 0; i-- {
		r := state.BatchResults[i]
		if r.BatchNumber != batchNumber {
			continue
		}
		if r.Status != domain.BatchBlocked {
			return nil
		}
		var resumable []domain.StepResult
		for _, step := range r.CompletedSteps {
			if step.Status == domain.StepFailed {
				continue
			}
			resumable = append(resumable, step)
		}
		return resumable
	}
	return nil
}
