package graph

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/graph/emit"
)

// Suspension describes a workflow paused immediately before an
// interrupt-before node. It carries everything a caller needs to
// later call Resume: which run, which node was about to execute, and
// the step number the state was persisted under.
type Suspension struct {
	RunID  string
	NodeID string
	Step   int
}

// SetInterruptBefore registers nodes that the engine must suspend before
// entering. Unlike the functional Option family in options.go, the
// interrupt set is graph-specific and is usually assembled after the
// nodes it names have been added, so it is exposed as a direct method
// rather than a constructor-time option.
//
// Calling this repeatedly is additive; node IDs need not yet exist when
// registered, since graphs are typically built incrementally.
func (e *Engine[S]) SetInterruptBefore(nodeIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.interrupts == nil {
		e.interrupts = make(map[string]bool, len(nodeIDs))
	}
	for _, id := range nodeIDs {
		e.interrupts[id] = true
	}
}

func (e *Engine[S]) isInterrupt(nodeID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interrupts[nodeID]
}

// RunInterruptible runs the graph sequentially from its start node,
// exactly like Run, except that it pauses immediately before any node
// registered via SetInterruptBefore: the accumulated state is persisted
// and a Suspension is returned instead of invoking the node body.
//
// It realizes the "run-until-suspended loop returning a suspension
// token" design described for interrupt-before nodes: no coroutines or
// goroutine parking are involved, the call simply returns.
func (e *Engine[S]) RunInterruptible(ctx context.Context, runID string, initial S) (S, *Suspension, error) {
	return e.runInterruptibleFrom(ctx, runID, e.startNode, initial, 0, false)
}

// Resume loads the latest persisted state for runID, merges delta
// through the bound reducer, and re-enters the run loop at nodeID — the
// node the prior call suspended before. The re-entered node is exempt
// from re-triggering suspension (its gate was already passed by the
// caller deciding to resume); subsequent interrupt nodes reached later
// in the same call still suspend normally.
func (e *Engine[S]) Resume(ctx context.Context, runID string, nodeID string, delta S) (S, *Suspension, error) {
	var zero S
	if e == nil || e.store == nil {
		return zero, nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	state, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return zero, nil, fmt.Errorf("resume: load latest state for %q: %w", runID, err)
	}
	if e.reducer == nil {
		return zero, nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	merged := e.reducer(state, delta)
	return e.runInterruptibleFrom(ctx, runID, nodeID, merged, step, true)
}

// runInterruptibleFrom is the shared sequential run loop for
// RunInterruptible and Resume. It mirrors Run's sequential path, adding
// the interrupt gate check at the top of each iteration.
func (e *Engine[S]) runInterruptibleFrom(ctx context.Context, runID, startNode string, initial S, startStep int, resuming bool) (S, *Suspension, error) {
	var zero S

	if e == nil {
		return zero, nil, &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if e.reducer == nil {
		return zero, nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return zero, nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if startNode == "" {
		return zero, nil, &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}

	e.mu.RLock()
	_, exists := e.nodes[startNode]
	e.mu.RUnlock()
	if !exists {
		return zero, nil, &EngineError{Message: "start node does not exist: " + startNode, Code: "NODE_NOT_FOUND"}
	}

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	rng := initRNG(runID)
	ctx = context.WithValue(ctx, RNGKey, rng)

	currentState := initial
	currentNode := startNode
	step := startStep
	skipGate := resuming

	for {
		select {
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		default:
		}

		if !skipGate && e.isInterrupt(currentNode) {
			if err := e.store.SaveStep(ctx, runID, step, "__suspend__:"+currentNode, currentState); err != nil {
				return zero, nil, &EngineError{Message: "failed to save suspension state: " + err.Error(), Code: "STORE_ERROR"}
			}
			if e.emitter != nil {
				e.emitter.Emit(emit.Event{
					RunID:  runID,
					Step:   step,
					NodeID: currentNode,
					Msg:    "interrupt_suspend",
				})
			}
			return currentState, &Suspension{RunID: runID, NodeID: currentNode, Step: step}, nil
		}
		skipGate = false

		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, nil, &EngineError{Message: "workflow exceeded MaxSteps limit", Code: "MAX_STEPS_EXCEEDED"}
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()
		if !exists {
			return zero, nil, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		e.emitNodeStart(runID, currentNode, step-1)
		result := nodeImpl.Run(ctx, currentState)
		if result.Err != nil {
			e.emitError(runID, currentNode, step-1, result.Err)
			return zero, nil, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)
		if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
			return zero, nil, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
		}
		e.emitNodeEnd(runID, currentNode, step-1, result.Delta)

		if result.Route.Terminal {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"terminal": true})
			return currentState, nil, nil
		}

		if len(result.Route.Many) > 0 {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{
				"parallel": true,
				"branches": result.Route.Many,
			})
			parallelState, err := e.executeParallel(ctx, result.Route.Many, currentState)
			if err != nil {
				return zero, nil, err
			}
			return parallelState, nil, nil
		}

		if result.Route.To != "" {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"next_node": result.Route.To})
			currentNode = result.Route.To
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, nil, &EngineError{Message: "no valid route from node: " + currentNode, Code: "NO_ROUTE"}
		}
		e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{
			"next_node": nextNode,
			"via_edge":  true,
		})
		currentNode = nextNode
	}
}
