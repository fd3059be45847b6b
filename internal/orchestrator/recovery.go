package orchestrator

import (
	"context"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Recover implements spec.md §4.8's "Startup recovery": workflows left
// `in_progress` by a crash are marked `failed` with a recoverable
// reason; workflows left `blocked` are left as-is but re-announced so
// clients reconcile their view of pending approvals. Call once after
// New, before accepting new start requests.
func (s *Service) Recover(ctx context.Context) error {
	inProgress, err := s.cfg.Store.ListByStatus(ctx, []domain.WorkflowStatus{domain.StatusInProgress})
	if err != nil {
		return err
	}
	for _, w := range inProgress {
		if err := s.cfg.Store.SetStatus(ctx, w.ID, domain.StatusFailed, "Server restarted while workflow was running"); err != nil {
			return err
		}
		s.emit(w.ID, domain.EventWorkflowFailed, "Server restarted while workflow was running", map[string]interface{}{"recoverable": true})
	}

	blocked, err := s.cfg.Store.ListByStatus(ctx, []domain.WorkflowStatus{domain.StatusBlocked})
	if err != nil {
		return err
	}
	for _, w := range blocked {
		s.emit(w.ID, domain.EventApprovalRequired, "awaiting approval at "+w.CurrentStage, map[string]interface{}{"node": w.CurrentStage})
	}

	return nil
}
