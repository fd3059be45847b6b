package graphdef

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/domain"
)

const defaultMaxReviewIterations = 3

var reviewSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"approved": map[string]interface{}{"type": "boolean"},
		"comments": map[string]interface{}{"type": "array"},
		"severity": map[string]interface{}{"type": "string"},
	},
	"required": []string{"approved"},
}

// reviewerNode calls the reviewer driver over the accumulated batch
// results and plan goal, then routes per spec.md §4.4 node 7.
func reviewerNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.Plan == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("reviewer: no plan in state")}
		}

		emitEvent(ctx, deps.Bus, domain.EventReviewRequested, "reviewer: evaluating changes", nil)

		systemPrompt := "You are a meticulous code reviewer evaluating a completed batch of changes."
		userPrompt := fmt.Sprintf("Plan goal: %s\n\nCompleted work:\n%s", state.Plan.Goal, summarizeBatchResults(state.BatchResults))

		raw, sessionID, err := deps.Reviewer.Generate(ctx, systemPrompt, userPrompt, reviewSchema)
		if err != nil {
			emitEvent(ctx, deps.Bus, domain.EventSystemError, "reviewer: "+err.Error(), nil)
			return graph.NodeResult[domain.ExecutionState]{Err: err}
		}

		encoded, err := json.Marshal(raw)
		if err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("reviewer: re-encode review: %w", err)}
		}
		var review domain.ReviewResult
		if err := json.Unmarshal(encoded, &review); err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("reviewer: decode review: %w", err)}
		}

		emitEvent(ctx, deps.Bus, domain.EventReviewCompleted,
			fmt.Sprintf("reviewer: approved=%v", review.Approved), map[string]interface{}{"severity": review.Severity})

		if review.Approved {
			return graph.NodeResult[domain.ExecutionState]{
				Delta: domain.ExecutionState{LastReview: &review, DriverSessionID: sessionID},
				Route: graph.Stop(),
			}
		}

		maxIter := state.MaxReviewIterations
		if maxIter == 0 {
			maxIter = defaultMaxReviewIterations
		}
		nextIter := state.ReviewIteration + 1

		if nextIter > maxIter || len(state.Plan.Batches) == 0 {
			return graph.NodeResult[domain.ExecutionState]{
				Delta: domain.ExecutionState{LastReview: &review, DriverSessionID: sessionID},
				Route: graph.Stop(),
			}
		}

		fixBatch := synthesizeFixBatch(review, len(state.Plan.Batches)+1)
		newPlan := *state.Plan
		newPlan.Batches = append(append([]domain.Batch{}, newPlan.Batches...), fixBatch)

		emitEvent(ctx, deps.Bus, domain.EventRevisionRequested,
			fmt.Sprintf("reviewer: requesting fix pass %d/%d", nextIter, maxIter), nil)

		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{
				Plan:              &newPlan,
				LastReview:        &review,
				ReviewIteration:   nextIter,
				CurrentBatchIndex: len(state.Plan.Batches),
				DriverSessionID:   sessionID,
			},
			Route: graph.Goto(NodeDeveloper),
		}
	}
}

func summarizeBatchResults(results []domain.BatchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "batch %d (%s):\n", r.BatchNumber, r.Status)
		for _, step := range r.CompletedSteps {
			fmt.Fprintf(&b, "  - %s: %s\n", step.StepID, step.Status)
		}
	}
	return b.String()
}

// synthesizeFixBatch turns review comments into a single manual-judgment
// batch the developer stage re-enters with (spec.md §4.4 node 7: "synthesize
// a single-batch fix plan from comments"). Translating free-form review
// prose into concrete code/command steps is prompt/generation detail out of
// the core's scope (spec.md §1); this produces the structural shape a real
// driver-backed synthesis step would fill in.
func synthesizeFixBatch(review domain.ReviewResult, number int) domain.Batch {
	steps := make([]domain.Step, 0, len(review.Comments))
	for i, comment := range review.Comments {
		steps = append(steps, domain.Step{
			ID:                    fmt.Sprintf("fix-%d-%d", number, i+1),
			Description:           comment,
			ActionType:            domain.ActionManual,
			RiskLevel:             domain.RiskMedium,
			RequiresHumanJudgment: true,
		})
	}
	return domain.Batch{
		Number:      number,
		Steps:       steps,
		RiskSummary: domain.RiskMedium,
		Description: "Review fix pass",
	}
}
