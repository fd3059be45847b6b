// Package issuetracker defines the issue-tracker adapter contract
// (spec.md §1: "GetIssue(id) → {id, title, description}") and an
// in-memory implementation for tests and standalone use.
package issuetracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Tracker resolves an issue id to its description. Concrete adapters
// (Jira, Linear, GitHub Issues, ...) live outside this module per spec.md
// §1 — the core only depends on this contract.
type Tracker interface {
	GetIssue(ctx context.Context, id string) (domain.Issue, error)
}

// ErrNotFound is returned by MemTracker when an issue id is unknown.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("issue %q not found", e.ID)
}

// MemTracker is a fixed, in-memory Tracker — useful for tests, demos, and
// deployments that feed issues in directly rather than through a ticketing
// system.
type MemTracker struct {
	mu     sync.RWMutex
	issues map[string]domain.Issue
}

// NewMemTracker returns a MemTracker seeded with issues.
func NewMemTracker(issues ...domain.Issue) *MemTracker {
	m := &MemTracker{issues: make(map[string]domain.Issue, len(issues))}
	for _, i := range issues {
		m.issues[i.ID] = i
	}
	return m
}

// Put adds or replaces an issue.
func (m *MemTracker) Put(issue domain.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issue.ID] = issue
}

func (m *MemTracker) GetIssue(_ context.Context, id string) (domain.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return domain.Issue{}, &ErrNotFound{ID: id}
	}
	return issue, nil
}

var _ Tracker = (*MemTracker)(nil)
