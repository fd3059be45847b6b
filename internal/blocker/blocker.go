// Package blocker implements the resolution protocol for a raised
// BlockerReport (spec.md §4.6): skip, abort, abort_revert, or a
// free-form fix instruction.
package blocker

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/vcs"
)

// Route names the node the graph should transition to after a
// resolution is applied (spec.md §4.6 routing column).
type Route string

const (
	RouteDeveloper Route = "developer"
	RouteEnd       Route = "end"
)

// Resolve applies resolution to state's current blocker and returns
// the delta ExecutionState carrying the ClearBlocker/ClearBlockerResolution
// flags (see internal/domain.Reduce) plus the resulting Route. plan
// supplies the dependency graph for the skip resolution's cascade
// closure. repo may be nil; it is required only for abort_revert.
func Resolve(ctx context.Context, resolution string, state domain.ExecutionState, plan domain.ExecutionPlan, repo *vcs.Repo) (domain.ExecutionState, Route, error) {
	switch resolution {
	case domain.ResolutionSkip:
		return resolveSkip(state, plan), RouteDeveloper, nil

	case domain.ResolutionAbort:
		return domain.ExecutionState{
			WorkflowStatus:         domain.GraphAborted,
			ClearBlocker:           true,
			ClearBlockerResolution: true,
		}, RouteEnd, nil

	case domain.ResolutionAbortRevert:
		if state.GitSnapshotBeforeBatch != nil && repo != nil {
			if err := repo.Revert(ctx, *state.GitSnapshotBeforeBatch); err != nil {
				return domain.ExecutionState{}, "", fmt.Errorf("abort_revert: %w", err)
			}
		}
		return domain.ExecutionState{
			WorkflowStatus:         domain.GraphAborted,
			ClearBlocker:           true,
			ClearBlockerResolution: true,
		}, RouteEnd, nil

	default:
		// Free-form instruction, empty, or unrecognized: clear the
		// blocker and let the developer retry (spec.md §4.6's
		// catch-all row). See DESIGN.md Open Question 1 for why the
		// instruction text itself is not threaded through further.
		return domain.ExecutionState{
			ClearBlocker:           true,
			ClearBlockerResolution: true,
		}, RouteDeveloper, nil
	}
}

// resolveSkip adds the blocked step to skipped_step_ids along with the
// transitive closure of every step that (directly or indirectly)
// depends on it, using the fixed-point algorithm in spec.md §4.6.
func resolveSkip(state domain.ExecutionState, plan domain.ExecutionPlan) domain.ExecutionState {
	var blockedStepID string
	if state.CurrentBlocker != nil {
		blockedStepID = state.CurrentBlocker.StepID
	}

	skipped := map[string]bool{blockedStepID: true}
	for added := true; added; {
		added = false
		for _, b := range plan.Batches {
			for _, s := range b.Steps {
				if skipped[s.ID] {
					continue
				}
				for _, dep := range s.DependsOn {
					if skipped[dep] {
						skipped[s.ID] = true
						added = true
						break
					}
				}
			}
		}
	}

	return domain.ExecutionState{
		SkippedStepIDs:         skipped,
		ClearBlocker:           true,
		ClearBlockerResolution: true,
	}
}
