package graphdef

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/domain"
)

// Review-fix sub-graph node IDs (spec.md §4.4 "Review-fix sub-graph
// (standalone entry point)"). This is a separate graph from New's main
// pipeline — it shares the reviewer and developer node bodies but adds an
// evaluation stage that classifies review items individually, each gated by
// its own interrupt point in server mode.
const (
	ReviewFixNodeReviewer      = "reviewer"
	ReviewFixNodeEvaluation    = "evaluation_node"
	ReviewFixNodeReviewApprove = "review_approval_node"
	ReviewFixNodeDeveloper     = "developer"
	ReviewFixNodeEndApprove    = "end_approval_node"
)

// ReviewItemDisposition is evaluation_node's per-comment classification
// (spec.md §4.4: "Evaluation classifies review items into
// implement | reject | defer").
type ReviewItemDisposition string

const (
	DispositionImplement ReviewItemDisposition = "implement"
	DispositionReject    ReviewItemDisposition = "reject"
	DispositionDefer     ReviewItemDisposition = "defer"
)

// EvaluatedItem pairs a raw review comment with its disposition.
type EvaluatedItem struct {
	Comment     string
	Disposition ReviewItemDisposition
}

// ReviewFixDeps configures NewReviewFix. ServerMode mirrors spec.md §4.4's
// "interrupt-before in server mode" qualifier: standalone/CLI-style runs of
// this sub-graph may want to auto-approve every item instead of suspending.
type ReviewFixDeps struct {
	Deps
	ServerMode bool
	MaxPasses  int // default 3, per spec.md §4.4.

	// Classify assigns a disposition to each review comment. Nil defaults
	// to classifying everything "implement" (the permissive default a
	// standalone run without a dedicated classifier driver would use).
	Classify func(comment string) ReviewItemDisposition
}

// NewReviewFix builds the standalone review-fix sub-graph: reviewer →
// evaluation_node → (auto or review_approval_node) → developer → (end or
// end_approval_node) → … , bounded by MaxPasses.
func NewReviewFix(deps ReviewFixDeps) (*graph.Engine[domain.ExecutionState], error) {
	if deps.MaxPasses == 0 {
		deps.MaxPasses = defaultMaxReviewIterations
	}
	classify := deps.Classify
	if classify == nil {
		classify = func(string) ReviewItemDisposition { return DispositionImplement }
	}

	eng := graph.New[domain.ExecutionState](domain.Reduce, deps.Store, deps.Emitter)

	nodes := map[string]graph.Node[domain.ExecutionState]{
		ReviewFixNodeReviewer:      reviewerNode(deps.Deps),
		ReviewFixNodeEvaluation:    evaluationNode(deps, classify),
		ReviewFixNodeReviewApprove: reviewApprovalNode(deps.Deps),
		ReviewFixNodeDeveloper:     developerNode(deps.Deps),
		ReviewFixNodeEndApprove:    endApprovalNode(deps.Deps),
	}
	for id, n := range nodes {
		if err := eng.Add(id, n); err != nil {
			return nil, err
		}
	}

	if err := eng.StartAt(ReviewFixNodeReviewer); err != nil {
		return nil, err
	}

	if deps.ServerMode {
		eng.SetInterruptBefore(ReviewFixNodeReviewApprove, ReviewFixNodeEndApprove)
	}

	return eng, nil
}

// evaluationNode classifies every pending review comment and routes to the
// human-gated review_approval_node unless every item was auto-dispositioned
// (reject/defer need no further action; only "implement" items warrant
// developer re-entry, and doing so still passes through the approval gate
// per spec.md §4.4).
func evaluationNode(deps ReviewFixDeps, classify func(string) ReviewItemDisposition) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.LastReview == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("evaluation_node: no review in state")}
		}

		var toImplement []string
		for _, comment := range state.LastReview.Comments {
			if classify(comment) == DispositionImplement {
				toImplement = append(toImplement, comment)
			}
		}

		if len(toImplement) == 0 {
			emitEvent(ctx, deps.Bus, domain.EventReviewCompleted, "evaluation: nothing to implement", nil)
			return graph.NodeResult[domain.ExecutionState]{Route: graph.Stop()}
		}

		if state.Plan == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("evaluation_node: no plan in state")}
		}
		fixBatch := synthesizeFixBatch(domain.ReviewResult{Comments: toImplement}, len(state.Plan.Batches)+1)
		newPlan := *state.Plan
		newPlan.Batches = append(append([]domain.Batch{}, newPlan.Batches...), fixBatch)

		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{Plan: &newPlan},
			Route: graph.Goto(ReviewFixNodeReviewApprove),
		}
	}
}

// reviewApprovalNode is interrupt-before in server mode; standalone runs
// fall straight through (their body still runs, reading human_approved —
// which a non-server caller is expected to have already set true before
// invoking the graph).
func reviewApprovalNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.HumanApproved != nil && !*state.HumanApproved {
			emitEvent(ctx, deps.Bus, domain.EventApprovalRejected, "review fix batch rejected", nil)
			return graph.NodeResult[domain.ExecutionState]{Delta: domain.ExecutionState{ClearHumanApproved: true}, Route: graph.Stop()}
		}
		emitEvent(ctx, deps.Bus, domain.EventApprovalGranted, "review fix batch approved", nil)
		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{ClearHumanApproved: true},
			Route: graph.Goto(ReviewFixNodeDeveloper),
		}
	}
}

// endApprovalNode gates whether another review pass should run
// (spec.md §4.4 "Max passes bound the loop").
func endApprovalNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.HumanApproved != nil && !*state.HumanApproved {
			return graph.NodeResult[domain.ExecutionState]{Delta: domain.ExecutionState{ClearHumanApproved: true}, Route: graph.Stop()}
		}
		return graph.NodeResult[domain.ExecutionState]{
			Delta: domain.ExecutionState{ClearHumanApproved: true, ReviewIteration: state.ReviewIteration + 1},
			Route: graph.Goto(ReviewFixNodeReviewer),
		}
	}
}
