package workflowstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/orcerr"
	"github.com/forgeflow/orchestrator/internal/statemachine"
)

// MemStore is an in-memory Store, grounded on graph/store.MemStore's
// map-plus-mutex shape. Intended for tests and single-process
// development, same as its teacher counterpart — not for production
// (no persistence across restarts).
type MemStore struct {
	mu sync.RWMutex

	workflows map[string]domain.Workflow
	events    map[string][]domain.WorkflowEvent // workflowID -> ordered log
	maxSeq    map[string]int64
	usage     []domain.TokenUsage
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows: make(map[string]domain.Workflow),
		events:    make(map[string][]domain.WorkflowEvent),
		maxSeq:    make(map[string]int64),
	}
}

func (m *MemStore) Create(_ context.Context, workflow domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workflows[workflow.ID]; exists {
		return &orcerr.WorkflowConflictError{WorktreePath: workflow.WorktreePath}
	}
	m.workflows[workflow.ID] = workflow
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[id]
	if !ok {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: id}
	}
	return w, nil
}

func (m *MemStore) GetByWorktree(_ context.Context, worktreePath string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best domain.Workflow
	found := false
	for _, w := range m.workflows {
		if w.WorktreePath != worktreePath || !isActive(w.Status) {
			continue
		}
		if !found || w.CreatedAt.After(best.CreatedAt) {
			best = w
			found = true
		}
	}
	if !found {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: worktreePath}
	}
	return best, nil
}

func (m *MemStore) Update(_ context.Context, workflow domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[workflow.ID]; !ok {
		return &orcerr.WorkflowNotFoundError{WorkflowID: workflow.ID}
	}
	m.workflows[workflow.ID] = workflow
	return nil
}

func (m *MemStore) SetStatus(_ context.Context, id string, status domain.WorkflowStatus, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[id]
	if !ok {
		return &orcerr.WorkflowNotFoundError{WorkflowID: id}
	}
	if err := statemachine.ValidateTransition(w.Status, status); err != nil {
		return err
	}
	w.Status = status
	w.FailureReason = failureReason
	now := time.Now()
	if status == domain.StatusCompleted || status == domain.StatusFailed ||
		status == domain.StatusCancelled || status == domain.StatusAborted {
		w.CompletedAt = &now
	}
	if status == domain.StatusInProgress && w.StartedAt == nil {
		w.StartedAt = &now
	}
	m.workflows[id] = w
	return nil
}

func (m *MemStore) ListActive(ctx context.Context) ([]domain.Workflow, error) {
	return m.ListByStatus(ctx, activeStatuses)
}

func (m *MemStore) ListByStatus(_ context.Context, statuses []domain.WorkflowStatus) ([]domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[domain.WorkflowStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []domain.Workflow
	for _, w := range m.workflows {
		if want[w.Status] {
			out = append(out, w)
		}
	}
	sortByStartedThenID(out)
	return out, nil
}

func (m *MemStore) List(_ context.Context, filter Filter, limit int, cursor string) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	var matched []domain.Workflow
	for _, w := range m.workflows {
		if matchesFilter(w, filter) {
			matched = append(matched, w)
		}
	}
	sortByStartedThenID(matched)

	start := 0
	if !c.StartedAt.IsZero() || c.ID != "" {
		for i, w := range matched {
			if afterCursor(w, c) {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	var next string
	if end < len(matched) {
		last := page[len(page)-1]
		next, err = EncodeCursor(Cursor{StartedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return Page{}, err
		}
	}
	return Page{Workflows: page, NextCursor: next}, nil
}

func afterCursor(w domain.Workflow, c Cursor) bool {
	if w.CreatedAt.After(c.StartedAt) {
		return true
	}
	if w.CreatedAt.Equal(c.StartedAt) {
		return w.ID > c.ID
	}
	return false
}

func sortByStartedThenID(ws []domain.Workflow) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].CreatedAt.Before(ws[j].CreatedAt)
	})
}

func (m *MemStore) CountActive(ctx context.Context) (int, error) {
	active, err := m.ListActive(ctx)
	return len(active), err
}

func (m *MemStore) CountByFilter(_ context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, w := range m.workflows {
		if matchesFilter(w, filter) {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) SaveEvent(_ context.Context, event domain.WorkflowEvent) (domain.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxSeq[event.WorkflowID]++
	event.Sequence = m.maxSeq[event.WorkflowID]
	m.events[event.WorkflowID] = append(m.events[event.WorkflowID], event)
	return event, nil
}

func (m *MemStore) GetMaxEventSequence(_ context.Context, workflowID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSeq[workflowID], nil
}

func (m *MemStore) Events(_ context.Context, workflowID string, afterSequence int64) ([]domain.WorkflowEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.WorkflowEvent
	for _, e := range m.events[workflowID] {
		if e.Sequence > afterSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) PruneEvents(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for workflowID, events := range m.events {
		kept := events[:0:0]
		for _, e := range events {
			if e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		m.events[workflowID] = kept
	}
	return removed, nil
}

func (m *MemStore) SaveTokenUsage(_ context.Context, record domain.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, record)
	return nil
}

func (m *MemStore) UsageTrend(_ context.Context, startDate, endDate time.Time) (UsageTrend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	daily := make(map[string]*DailyUsage)
	byModel := make(map[string]*ModelUsage)

	for _, u := range m.usage {
		if u.Timestamp.Before(startDate) || u.Timestamp.After(endDate) {
			continue
		}
		day := u.Timestamp.Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailyUsage{Date: day}
			daily[day] = d
		}
		d.InputTokens += u.InputTokens
		d.OutputTokens += u.OutputTokens
		d.CostUSD += u.CostUSD

		mo, ok := byModel[u.Model]
		if !ok {
			mo = &ModelUsage{Model: u.Model}
			byModel[u.Model] = mo
		}
		mo.InputTokens += u.InputTokens
		mo.OutputTokens += u.OutputTokens
		mo.CostUSD += u.CostUSD
	}

	trend := UsageTrend{}
	for _, d := range daily {
		trend.Daily = append(trend.Daily, *d)
	}
	sort.Slice(trend.Daily, func(i, j int) bool { return trend.Daily[i].Date < trend.Daily[j].Date })
	for _, mo := range byModel {
		trend.ByModel = append(trend.ByModel, *mo)
	}
	sort.Slice(trend.ByModel, func(i, j int) bool { return trend.ByModel[i].Model < trend.ByModel[j].Model })
	return trend, nil
}

func (m *MemStore) Close() error {
	return nil
}

var _ Store = (*MemStore)(nil)
