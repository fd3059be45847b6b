// Package workflowstore implements the durable Workflow Store
// (spec.md §4.2): workflow records, their append-only event log, and
// token-usage aggregation. Grounded on graph/store's Store[S]
// checkpoint-store pattern (single-file-open, WAL-mode SQLite plus a
// pooled MySQL backend, both behind one interface) but persists the
// orchestrator's own domain.Workflow/WorkflowEvent/TokenUsage records
// instead of opaque generic state.
package workflowstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Filter narrows List/CountByFilter to a subset of workflows. Zero
// values are wildcards.
type Filter struct {
	Statuses  []domain.WorkflowStatus
	IssueID   string
	ProfileID string
}

// Cursor is the opaque pagination token spec.md §4.2 describes as
// encoding (started_at, id) — "base64-ish opaque" to callers.
type Cursor struct {
	StartedAt time.Time `json:"started_at"`
	ID        string    `json:"id"`
}

// EncodeCursor renders c as the opaque string handed back to API
// clients in a List response's next_cursor field.
func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a cursor string previously returned by
// EncodeCursor. An empty string decodes to the zero Cursor (start of
// the list).
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

// Page is one page of a List call: the matching workflows plus the
// cursor to pass back in to fetch the next page (empty when
// exhausted).
type Page struct {
	Workflows  []domain.Workflow
	NextCursor string
}

// DailyUsage is one day's token/cost totals (spec.md §4.2 UsageTrend).
type DailyUsage struct {
	Date         string  `json:"date"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ModelUsage is one model's token/cost totals over the queried range.
type ModelUsage struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageTrend is the result of Store.UsageTrend: per-day totals plus a
// per-model cost breakdown over the same range.
type UsageTrend struct {
	Daily   []DailyUsage
	ByModel []ModelUsage
}

// Store is the Workflow Store contract (spec.md §4.2). Create,
// SetStatus, and SaveEvent each execute in a single transaction;
// sequence issuance is atomic with event insertion.
type Store interface {
	Create(ctx context.Context, workflow domain.Workflow) error
	Get(ctx context.Context, id string) (domain.Workflow, error)
	GetByWorktree(ctx context.Context, worktreePath string) (domain.Workflow, error)
	Update(ctx context.Context, workflow domain.Workflow) error
	SetStatus(ctx context.Context, id string, status domain.WorkflowStatus, failureReason string) error

	ListActive(ctx context.Context) ([]domain.Workflow, error)
	ListByStatus(ctx context.Context, statuses []domain.WorkflowStatus) ([]domain.Workflow, error)
	List(ctx context.Context, filter Filter, limit int, cursor string) (Page, error)

	CountActive(ctx context.Context) (int, error)
	CountByFilter(ctx context.Context, filter Filter) (int, error)

	SaveEvent(ctx context.Context, event domain.WorkflowEvent) (domain.WorkflowEvent, error)
	GetMaxEventSequence(ctx context.Context, workflowID string) (int64, error)
	Events(ctx context.Context, workflowID string, afterSequence int64) ([]domain.WorkflowEvent, error)
	// PruneEvents deletes every persisted event older than cutoff,
	// returning the number removed (spec.md §2's "periodic cleanup of
	// old events per retention policy").
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)

	SaveTokenUsage(ctx context.Context, record domain.TokenUsage) error
	UsageTrend(ctx context.Context, startDate, endDate time.Time) (UsageTrend, error)

	Close() error
}

// activeStatuses are the WorkflowStatus values ListActive/CountActive
// treat as "currently occupying a concurrency slot" (spec.md §5: a
// workflow counts against the concurrency cap from pending through
// blocked, but not once it reaches a terminal or failed state).
var activeStatuses = []domain.WorkflowStatus{
	domain.StatusPending,
	domain.StatusInProgress,
	domain.StatusBlocked,
	domain.StatusPlanning,
}

func isActive(status domain.WorkflowStatus) bool {
	for _, s := range activeStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func matchesFilter(w domain.Workflow, f Filter) bool {
	if f.IssueID != "" && w.IssueID != f.IssueID {
		return false
	}
	if f.ProfileID != "" && w.ProfileID != f.ProfileID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == w.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
