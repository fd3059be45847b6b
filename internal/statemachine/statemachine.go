// Package statemachine validates Workflow status transitions against
// the matrix in spec.md §4.3.
package statemachine

import (
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/orcerr"
)

var transitions = map[domain.WorkflowStatus]map[domain.WorkflowStatus]bool{
	domain.StatusPending: {
		domain.StatusInProgress: true,
		domain.StatusCancelled:  true,
	},
	domain.StatusInProgress: {
		domain.StatusBlocked:   true,
		domain.StatusCompleted: true,
		domain.StatusFailed:    true,
		domain.StatusCancelled: true,
	},
	domain.StatusBlocked: {
		domain.StatusInProgress: true,
		domain.StatusFailed:     true,
		domain.StatusPlanning:   true,
		domain.StatusCancelled:  true,
	},
	domain.StatusFailed: {
		domain.StatusInProgress: true,
	},
	domain.StatusPlanning: {
		domain.StatusInProgress: true,
	},
	// completed, cancelled, aborted: terminal, no outgoing edges.
}

// ValidateTransition returns an *orcerr.InvalidStateTransitionError when
// (from, to) is not an edge in the matrix, including same-state
// transitions (the matrix never contains self-edges). Returns nil when
// the edge is valid.
func ValidateTransition(from, to domain.WorkflowStatus) error {
	if targets, ok := transitions[from]; ok && targets[to] {
		return nil
	}
	return &orcerr.InvalidStateTransitionError{From: string(from), To: string(to)}
}

// IsTerminal reports whether status has no outgoing transitions in the
// matrix above. Note: spec.md §3's invariant list names `failed` as a
// terminal status alongside completed/cancelled/aborted, but §4.3's own
// transition matrix carves out failed -> in_progress for operator-
// initiated resume. IsTerminal follows the matrix (the authoritative
// transition contract): only completed, cancelled, and aborted have no
// outgoing edges. `failed` is "terminal" only in the sense that nothing
// the graph itself does can move it forward — only an explicit resume
// call can.
func IsTerminal(status domain.WorkflowStatus) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusCancelled, domain.StatusAborted:
		return true
	}
	return false
}
