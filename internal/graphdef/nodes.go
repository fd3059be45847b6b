package graphdef

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/planvalidate"
)

// planSchema is the JSON Schema handed to the architect driver's Generate
// call; prompt/schema wording is adapter detail (spec.md §1 non-goal), so
// this is kept minimal rather than an exhaustive mirror of domain.Step.
var planSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"goal":    map[string]interface{}{"type": "string"},
		"batches": map[string]interface{}{"type": "array"},
	},
	"required": []string{"goal", "batches"},
}

// startNode implements spec.md §4.4's "Start routing": dispatch to
// architect, or directly to plan_validator when an external plan was
// supplied.
func startNode() graph.NodeFunc[domain.ExecutionState] {
	return func(_ context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.PlanExternal {
			return graph.NodeResult[domain.ExecutionState]{Route: graph.Goto(NodePlanValidator)}
		}
		return graph.NodeResult[domain.ExecutionState]{Route: graph.Goto(NodeArchitect)}
	}
}

// architectNode calls the planner driver, writes the resulting plan to a
// deterministic path under the worktree, and routes unconditionally to
// plan_validator (spec.md §4.4 node 1).
func architectNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		emitEvent(ctx, deps.Bus, domain.EventStageStarted, "architect: planning", nil)

		if state.Issue == nil {
			err := fmt.Errorf("architect: execution state has no issue set")
			emitEvent(ctx, deps.Bus, domain.EventSystemError, err.Error(), nil)
			return graph.NodeResult[domain.ExecutionState]{Err: err}
		}

		systemPrompt := "You are a software architect. Produce a batched execution plan for the given issue."
		userPrompt := fmt.Sprintf("Issue %s: %s\n\n%s", state.Issue.ID, state.Issue.Title, state.Issue.Description)
		if state.Design != nil {
			userPrompt += "\n\nDesign:\n" + state.Design.RawContent
		}

		raw, sessionID, err := deps.Architect.Generate(ctx, systemPrompt, userPrompt, planSchema)
		if err != nil {
			emitEvent(ctx, deps.Bus, domain.EventSystemError, "architect: "+err.Error(), nil)
			return graph.NodeResult[domain.ExecutionState]{Err: err}
		}

		encoded, err := json.Marshal(raw)
		if err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("architect: re-encode plan: %w", err)}
		}
		var plan domain.ExecutionPlan
		if err := json.Unmarshal(encoded, &plan); err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("architect: decode plan: %w", err)}
		}

		path := planPath(deps.WorktreePath, state.Profile, state.Issue.ID)
		if err := writePlanArtifact(path, plan); err != nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("architect: write plan artifact: %w", err)}
		}
		emitEvent(ctx, deps.Bus, domain.EventFileCreated, "wrote plan artifact", map[string]interface{}{"path": path})
		emitEvent(ctx, deps.Bus, domain.EventStageCompleted, "architect: plan ready", nil)

		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{
				Plan:            &plan,
				DriverSessionID: sessionID,
			},
			Route: graph.Goto(NodePlanValidator),
		}
	}
}

// planValidatorNode verifies the plan's internal consistency and splits
// oversized batches (spec.md §4.4 node 2). A validation failure (cyclic or
// dangling dependency) halts the run via NodeResult.Err — it is a
// precondition violation, not a recoverable blocker (spec.md §7
// "Propagation policy").
func planValidatorNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.Plan == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("plan_validator: no plan in state")}
		}

		result, err := planvalidate.Validate(*state.Plan)
		if err != nil {
			emitEvent(ctx, deps.Bus, domain.EventSystemError, "plan_validator: "+err.Error(), nil)
			return graph.NodeResult[domain.ExecutionState]{Err: err}
		}
		for _, w := range result.Warnings {
			emitEvent(ctx, deps.Bus, domain.EventSystemWarning, w, nil)
		}

		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{Plan: &result.Plan},
			Route: graph.Goto(NodeHumanApproval),
		}
	}
}

// humanApprovalNode is an interrupt-before node (spec.md §4.4 node 3): by
// the time its body runs, a resume call has already merged
// human_approved into state.
func humanApprovalNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		approved := state.HumanApproved != nil && *state.HumanApproved

		if approved {
			emitEvent(ctx, deps.Bus, domain.EventApprovalGranted, "plan approved", nil)
			if state.PlanOnly {
				return graph.NodeResult[domain.ExecutionState]{
					Delta: domain.ExecutionState{ClearHumanApproved: true},
					Route: graph.Stop(),
				}
			}
			maxIter := state.MaxReviewIterations
			if maxIter == 0 {
				maxIter = deps.DefaultMaxReviewIterations
			}
			return graph.NodeResult[domain.ExecutionState]{
				Delta: domain.ExecutionState{
					ClearHumanApproved: true,
					MaxReviewIterations: maxIter,
				},
				Route: graph.Goto(NodeDeveloper),
			}
		}

		emitEvent(ctx, deps.Bus, domain.EventApprovalRejected, "plan rejected", map[string]interface{}{"feedback": state.RejectFeedback})
		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{ClearHumanApproved: true},
			Route: graph.Stop(),
		}
	}
}
