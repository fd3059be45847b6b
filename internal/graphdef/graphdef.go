// Package graphdef wires the orchestration engine's named stage nodes
// (spec.md §4.4) onto the teacher's generic graph.Engine[S], instantiated
// with domain.ExecutionState. All conditional routing described in spec.md
// §4.4 is expressed inside each node's own NodeResult.Route (graph.Goto /
// graph.Stop) rather than via graph.Connect predicate edges: Connect-style
// edges are only consulted when a node returns a zero Route
// (graph/interrupt.go's runInterruptibleFrom falls back to evaluateEdges
// only in that case), and every routing decision here depends on the full
// ExecutionState a node already has in scope, so encoding it as Connect
// predicates would just relocate the same logic behind a second indirection.
package graphdef

import (
	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/graph/emit"
	"github.com/forgeflow/orchestrator/graph/store"
	"github.com/forgeflow/orchestrator/internal/batchexec"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/driver"
	"github.com/forgeflow/orchestrator/internal/eventbus"
	"github.com/forgeflow/orchestrator/internal/vcs"
)

// Node IDs named by spec.md §4.4.
const (
	NodeStart             = "start"
	NodeArchitect         = "architect"
	NodePlanValidator     = "plan_validator"
	NodeHumanApproval     = "human_approval"
	NodeDeveloper         = "developer"
	NodeBatchApproval     = "batch_approval"
	NodeBlockerResolution = "blocker_resolution"
	NodeReviewer          = "reviewer"
)

// Deps bundles the main graph's external collaborators: drivers for the
// planner/reviewer roles, the VCS adapter for snapshot/revert, and the
// event bus every node reports progress through.
type Deps struct {
	Architect driver.Driver
	Reviewer  driver.Driver

	Repo         *vcs.Repo
	WorktreePath string

	Bus *eventbus.Bus

	// Store is the Checkpoint Store (graph/store.Store[domain.ExecutionState]);
	// spec.md §4.4 "Checkpointing" calls for one snapshot per node execution
	// and per interrupt, which is exactly what graph.Engine already does
	// given a store.
	Store store.Store[domain.ExecutionState]

	// Emitter is the teacher's low-level observability sink (graph/emit);
	// kept distinct from Bus, which carries domain-level WorkflowEvents.
	Emitter emit.Emitter

	// DefaultMaxReviewIterations seeds ExecutionState.MaxReviewIterations
	// when a workflow starts without one set (spec.md §4.4 node 7: "default
	// 3" mirrors the review-fix sub-graph's own default).
	DefaultMaxReviewIterations int

	// Semantic is the optional high-risk semantic pre-validation hook
	// (spec.md §4.5 "an additional semantic check via a small LLM call is
	// permitted"). Nil disables it; the filesystem-only tiers still run.
	Semantic batchexec.SemanticValidator

	// Metrics, when non-nil, enables the teacher's Prometheus instrumentation
	// on the built engine (inflight nodes, queue depth, step latency,
	// retries, merge conflicts, backpressure). cmd/forgeflowd constructs one
	// shared instance across every workflow's engine and exposes it on
	// /metrics via promhttp.
	Metrics *graph.PrometheusMetrics
}

// New builds the main execution graph: start → architect/plan_validator →
// human_approval → developer ⇄ {batch_approval, blocker_resolution} →
// reviewer → END, per spec.md §4.4's routing table. The three interrupt
// points (human_approval, batch_approval, blocker_resolution) are
// registered via SetInterruptBefore.
func New(deps Deps) (*graph.Engine[domain.ExecutionState], error) {
	var eng *graph.Engine[domain.ExecutionState]
	if deps.Metrics != nil {
		eng = graph.New[domain.ExecutionState](domain.Reduce, deps.Store, deps.Emitter, graph.WithMetrics(deps.Metrics))
	} else {
		eng = graph.New[domain.ExecutionState](domain.Reduce, deps.Store, deps.Emitter)
	}

	nodes := map[string]graph.Node[domain.ExecutionState]{
		NodeStart:             startNode(),
		NodeArchitect:         architectNode(deps),
		NodePlanValidator:     planValidatorNode(deps),
		NodeHumanApproval:     humanApprovalNode(deps),
		NodeDeveloper:         developerNode(deps),
		NodeBatchApproval:     batchApprovalNode(deps),
		NodeBlockerResolution: blockerResolutionNode(deps),
		NodeReviewer:          reviewerNode(deps),
	}
	for id, n := range nodes {
		if err := eng.Add(id, n); err != nil {
			return nil, err
		}
	}

	if err := eng.StartAt(NodeStart); err != nil {
		return nil, err
	}

	eng.SetInterruptBefore(NodeHumanApproval, NodeBatchApproval, NodeBlockerResolution)

	return eng, nil
}
