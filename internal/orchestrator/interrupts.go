package orchestrator

import (
	"context"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// ApproveAtInterrupt injects human_approved=true and resumes a blocked
// workflow (spec.md §4.8).
func (s *Service) ApproveAtInterrupt(ctx context.Context, workflowID string) error {
	approved := true
	return s.resumeWith(ctx, workflowID, domain.ExecutionState{HumanApproved: &approved})
}

// RejectAtInterrupt injects human_approved=false (+ feedback) and
// resumes a blocked workflow (spec.md §4.8).
func (s *Service) RejectAtInterrupt(ctx context.Context, workflowID, feedback string) error {
	approved := false
	return s.resumeWith(ctx, workflowID, domain.ExecutionState{HumanApproved: &approved, RejectFeedback: feedback})
}

// ResolveBlocker injects a blocker_resolution and resumes a workflow
// suspended at blocker_resolution (spec.md §4.8, §4.6's resolution
// table — applied by internal/blocker.Resolve inside the node body).
func (s *Service) ResolveBlocker(ctx context.Context, workflowID, resolution string) error {
	return s.resumeWith(ctx, workflowID, domain.ExecutionState{BlockerResolution: resolution})
}
