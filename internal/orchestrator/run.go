package orchestrator

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/domain"
)

// launch resolves a workflow's issue and profile, transitions it to
// in_progress, and starts its graph run as a detached task bound to
// thread_id = workflow_id (spec.md §4.8 "Task launch").
func (s *Service) launch(ctx context.Context, workflowID string, plan *domain.ExecutionPlan) error {
	workflow, err := s.cfg.Store.Get(ctx, workflowID)
	if err != nil {
		return err
	}

	initial := domain.ExecutionState{
		Plan:         plan,
		PlanExternal: workflow.ExternalPlan,
		PlanOnly:     workflow.PlanOnly,
		Profile:      s.cfg.Profiles[workflow.ProfileID],
	}
	if s.cfg.Tracker != nil {
		issue, err := s.cfg.Tracker.GetIssue(ctx, workflow.IssueID)
		if err != nil {
			return fmt.Errorf("orchestrator: resolve issue %s: %w", workflow.IssueID, err)
		}
		initial.Issue = &issue
	}

	if err := s.cfg.Store.SetStatus(ctx, workflowID, domain.StatusInProgress, ""); err != nil {
		return err
	}

	r, runCtx, err := s.attach(workflow)
	if err != nil {
		return err
	}

	s.emit(workflowID, domain.EventWorkflowStarted, "workflow started", nil)
	go s.runWorkflow(runCtx, r, workflowID, initial)
	return nil
}

// attach builds a fresh graph engine for workflow and registers its
// cancellable run context under s.runs. Used both by launch and by
// resumeWith when a process restart left the workflow blocked without
// a live in-memory run (spec.md §4.8 "Startup recovery": blocked
// workflows are left as-is, so their engine must be rebuildable on
// demand rather than assumed to still be running).
func (s *Service) attach(workflow domain.Workflow) (*run, context.Context, error) {
	engine, err := s.buildEngine(workflow)
	if err != nil {
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = context.WithValue(runCtx, graph.RunIDKey, workflow.ID)

	r := &run{engine: engine, cancel: cancel, workflowID: workflow.ID}
	s.runs.Store(workflow.ID, r)
	return r, runCtx, nil
}

func (s *Service) runWorkflow(ctx context.Context, r *run, workflowID string, initial domain.ExecutionState) {
	state, susp, err := r.engine.RunInterruptible(ctx, workflowID, initial)
	s.handleOutcome(ctx, workflowID, state, susp, err)
}

// handleOutcome applies spec.md §4.8's "On completion or failure, set
// the terminal status and emit the corresponding WORKFLOW_* event" and
// §4.4's interrupt-suspension-to-blocked mapping.
func (s *Service) handleOutcome(ctx context.Context, workflowID string, state domain.ExecutionState, susp *graph.Suspension, err error) {
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled cooperatively; CancelWorkflow already set the
			// terminal status and emitted WORKFLOW_CANCELLED.
			return
		}
		_ = s.cfg.Store.SetStatus(context.Background(), workflowID, domain.StatusFailed, err.Error())
		s.emit(workflowID, domain.EventWorkflowFailed, err.Error(), map[string]interface{}{"recoverable": false})
		s.runs.Delete(workflowID)
		return
	}

	if susp != nil {
		workflow, getErr := s.cfg.Store.Get(context.Background(), workflowID)
		if getErr == nil {
			workflow.CurrentStage = susp.NodeID
			_ = s.cfg.Store.Update(context.Background(), workflow)
		}
		_ = s.cfg.Store.SetStatus(context.Background(), workflowID, domain.StatusBlocked, "")
		s.emit(workflowID, domain.EventApprovalRequired, "awaiting approval at "+susp.NodeID, map[string]interface{}{"node": susp.NodeID})
		return
	}

	// DESIGN.md Open Question 2: a graph that halted via blocker-abort
	// carries GraphAborted in-state rather than an error; that maps to
	// the persisted `cancelled` status, not `completed`.
	if state.WorkflowStatus == domain.GraphAborted {
		_ = s.cfg.Store.SetStatus(context.Background(), workflowID, domain.StatusCancelled, "aborted at blocker resolution")
		s.emit(workflowID, domain.EventWorkflowCancelled, "workflow aborted at blocker", nil)
		s.runs.Delete(workflowID)
		return
	}

	_ = s.cfg.Store.SetStatus(context.Background(), workflowID, domain.StatusCompleted, "")
	s.emit(workflowID, domain.EventWorkflowCompleted, "workflow completed", nil)
	s.runs.Delete(workflowID)
}

// resumeWith injects delta at the workflow's recorded suspension point
// and resumes it. Shared by ApproveAtInterrupt, RejectAtInterrupt, and
// ResolveBlocker (spec.md §4.8): all three "inject a field and resume".
func (s *Service) resumeWith(ctx context.Context, workflowID string, delta domain.ExecutionState) error {
	workflow, err := s.cfg.Store.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if workflow.Status != domain.StatusBlocked {
		// Spec.md §9 "Approving the same interrupt twice is harmless": once
		// the workflow has moved on, a repeat call is a no-op.
		return nil
	}
	if workflow.CurrentStage == "" {
		return fmt.Errorf("orchestrator: workflow %s has no recorded suspension point", workflowID)
	}

	v, ok := s.runs.Load(workflowID)
	var typedRun *run
	if !ok {
		typedRun, _, err = s.attach(workflow)
		if err != nil {
			return err
		}
	} else {
		typedRun = v.(*run)
	}

	// One cancellable context per resume call: spec.md §5's "cooperative
	// single-threaded event loop ... for each workflow task" means only one
	// node body runs at a time, so replacing the cancel func here is safe.
	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = context.WithValue(runCtx, graph.RunIDKey, workflowID)
	typedRun.mu.Lock()
	typedRun.cancel = cancel
	typedRun.mu.Unlock()

	if err := s.cfg.Store.SetStatus(ctx, workflowID, domain.StatusInProgress, ""); err != nil {
		return err
	}

	nodeID := workflow.CurrentStage
	go func() {
		state, susp, err := typedRun.engine.Resume(runCtx, workflowID, nodeID, delta)
		s.handleOutcome(runCtx, workflowID, state, susp, err)
	}()
	return nil
}
