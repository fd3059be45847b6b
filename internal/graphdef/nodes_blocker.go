package graphdef

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/blocker"
	"github.com/forgeflow/orchestrator/internal/domain"
)

// blockerResolutionNode is an interrupt-before node (spec.md §4.4 node 6):
// by the time its body runs, a resume call has merged blocker_resolution
// into state. internal/blocker.Resolve applies spec.md §4.6's resolution
// table and reports which node to route to next.
func blockerResolutionNode(deps Deps) graph.NodeFunc[domain.ExecutionState] {
	return func(ctx context.Context, state domain.ExecutionState) graph.NodeResult[domain.ExecutionState] {
		if state.Plan == nil {
			return graph.NodeResult[domain.ExecutionState]{Err: fmt.Errorf("blocker_resolution: no plan in state")}
		}

		delta, route, err := blocker.Resolve(ctx, state.BlockerResolution, state, *state.Plan, deps.Repo)
		if err != nil {
			emitEvent(ctx, deps.Bus, domain.EventSystemError, "blocker_resolution: "+err.Error(), nil)
			return graph.NodeResult[domain.ExecutionState]{Err: err}
		}

		emitEvent(ctx, deps.Bus, domain.EventAgentMessage,
			fmt.Sprintf("blocker resolved: %s", state.BlockerResolution), map[string]interface{}{"resolution": state.BlockerResolution})

		if route == blocker.RouteEnd {
			emitEvent(ctx, deps.Bus, domain.EventWorkflowCancelled, "workflow aborted at blocker", nil)
			return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Stop()}
		}
		return graph.NodeResult[domain.ExecutionState]{Delta: delta, Route: graph.Goto(NodeDeveloper)}
	}
}
