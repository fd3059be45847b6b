// Package orchestrator implements the Orchestrator Service (spec.md
// §4.8): the single component that creates workflows, enforces the
// concurrency and worktree-exclusivity rules of spec.md §5, launches
// each workflow as its own task bound to the graph engine built by
// internal/graphdef, and reconciles state on startup. It has no
// original-language file to translate from — original_source's
// orchestrator package (amelia/server/orchestrator) is filtered down to
// exceptions.go, whose two error kinds already live in internal/orcerr —
// so its shape here is built directly from spec.md §4.8/§5.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/graph/emit"
	"github.com/forgeflow/orchestrator/graph/store"
	"github.com/forgeflow/orchestrator/internal/batchexec"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/driver"
	"github.com/forgeflow/orchestrator/internal/eventbus"
	"github.com/forgeflow/orchestrator/internal/graphdef"
	"github.com/forgeflow/orchestrator/internal/issuetracker"
	"github.com/forgeflow/orchestrator/internal/orcerr"
	"github.com/forgeflow/orchestrator/internal/vcs"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

// Config bundles the Service's external collaborators. Architect and
// Reviewer are shared across every workflow the service runs (spec.md
// §1's Driver contract is stateless per call); per-workflow state lives
// only in the Workflow record and its checkpoint store entries.
type Config struct {
	Store     workflowstore.Store
	Bus       *eventbus.Bus
	Tracker   issuetracker.Tracker
	Profiles  map[string]domain.Profile

	Architect driver.Driver
	Reviewer  driver.Driver
	Semantic  batchexec.SemanticValidator

	Checkpoints store.Store[domain.ExecutionState]
	Emitter     emit.Emitter

	// Metrics, when non-nil, enables Prometheus instrumentation on every
	// workflow's graph engine (see internal/graphdef.Deps.Metrics).
	Metrics *graph.PrometheusMetrics

	MaxConcurrent              int
	DefaultMaxReviewIterations int

	Log zerolog.Logger
}

// StartOptions customizes StartWorkflow beyond its required arguments.
type StartOptions struct {
	// Defer leaves the new workflow in `pending` instead of launching it
	// immediately (spec.md §4.8: "if start=false, leaves the workflow in
	// pending for later StartPending").
	Defer bool

	// PlanOnly requests that the workflow stop once a plan has been
	// produced and approved, without executing any batch (spec.md §6's
	// `POST /api/workflows` body field). Recorded on the Workflow record;
	// see DESIGN.md for how this is enforced.
	PlanOnly bool

	PlanExternal bool
	Plan         *domain.ExecutionPlan

	// WorktreeName is an optional human-readable label for the worktree
	// (spec.md §6's `POST /api/workflows` body field), recorded on the
	// Workflow record alongside its path.
	WorktreeName string
}

// run tracks one workflow's live task so CancelWorkflow and interrupt
// resumption calls can reach it.
type run struct {
	engine *graph.Engine[domain.ExecutionState]

	mu         sync.Mutex
	cancel     context.CancelFunc
	workflowID string
}

// Service is the Orchestrator Service (spec.md §4.8).
type Service struct {
	cfg Config

	mu   sync.Mutex // guards start-time concurrency/exclusivity checks
	runs sync.Map   // workflow id -> *run, live only while non-terminal
}

// New constructs a Service. Callers are expected to call Recover after
// New on process startup, per spec.md §4.8's "Startup recovery".
func New(cfg Config) *Service {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 5
	}
	return &Service{cfg: cfg}
}

// StartWorkflow validates the target worktree, enforces the
// concurrency cap and worktree exclusivity under the service mutex,
// persists the Workflow record, and — unless opts.Defer is set —
// launches it (spec.md §4.8 "Public contract").
func (s *Service) StartWorkflow(ctx context.Context, issueID, worktreePath, profileID string, opts StartOptions) (string, error) {
	profile, ok := s.cfg.Profiles[profileID]
	if !ok {
		return "", fmt.Errorf("orchestrator: unknown profile %q", profileID)
	}
	if err := profile.Validate(); err != nil {
		return "", err
	}
	if _, err := vcs.New(worktreePath).Snapshot(ctx); err != nil {
		return "", fmt.Errorf("orchestrator: %s is not a usable VCS worktree: %w", worktreePath, err)
	}

	s.mu.Lock()
	if err := s.checkConcurrency(ctx); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := s.checkWorktreeExclusive(ctx, worktreePath); err != nil {
		s.mu.Unlock()
		return "", err
	}

	workflow := domain.Workflow{
		ID:           uuid.NewString(),
		IssueID:      issueID,
		WorktreePath: worktreePath,
		WorktreeName: opts.WorktreeName,
		ProfileID:    profileID,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
		PlanOnly:     opts.PlanOnly,
		ExternalPlan: opts.PlanExternal,
	}
	if err := s.cfg.Store.Create(ctx, workflow); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	if opts.Defer {
		return workflow.ID, nil
	}
	if err := s.launch(ctx, workflow.ID, opts.Plan); err != nil {
		return workflow.ID, err
	}
	return workflow.ID, nil
}

// StartPending transitions a `pending` workflow to `in_progress` and
// launches it.
func (s *Service) StartPending(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	workflow, err := s.cfg.Store.Get(ctx, workflowID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if workflow.Status != domain.StatusPending {
		s.mu.Unlock()
		return &orcerr.InvalidStateTransitionError{From: string(workflow.Status), To: string(domain.StatusInProgress)}
	}
	if err := s.checkConcurrency(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.checkWorktreeExclusive(ctx, workflow.WorktreePath); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	return s.launch(ctx, workflowID, nil)
}

// BatchResult reports the outcome of one StartBatch call.
type BatchResult struct {
	Started []string
	Errors  map[string]error
}

// StartBatch starts every named workflow in ids, or (when ids is
// empty) every pending workflow matching filter, per spec.md §6's
// `POST /api/workflows/start-batch` body `{workflow_ids?}`.
func (s *Service) StartBatch(ctx context.Context, filter workflowstore.Filter, ids []string) (BatchResult, error) {
	result := BatchResult{Errors: make(map[string]error)}

	if len(ids) > 0 {
		for _, id := range ids {
			if err := s.StartPending(ctx, id); err != nil {
				result.Errors[id] = err
				continue
			}
			result.Started = append(result.Started, id)
		}
		return result, nil
	}

	filter.Statuses = []domain.WorkflowStatus{domain.StatusPending}
	page, err := s.cfg.Store.List(ctx, filter, 0, "")
	if err != nil {
		return BatchResult{}, err
	}
	for _, w := range page.Workflows {
		if err := s.StartPending(ctx, w.ID); err != nil {
			result.Errors[w.ID] = err
			continue
		}
		result.Started = append(result.Started, w.ID)
	}
	return result, nil
}

// CancelWorkflow transitions a non-terminal workflow to `cancelled`,
// cancels its run task, and emits WORKFLOW_CANCELLED (spec.md §4.8,
// §5 "Cancellation and timeouts").
func (s *Service) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	if err := s.cfg.Store.SetStatus(ctx, workflowID, domain.StatusCancelled, reason); err != nil {
		return err
	}

	if v, ok := s.runs.Load(workflowID); ok {
		r := v.(*run)
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
		s.runs.Delete(workflowID)
	}

	s.emit(workflowID, domain.EventWorkflowCancelled, "workflow cancelled: "+reason, nil)
	return nil
}

func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (domain.Workflow, error) {
	return s.cfg.Store.Get(ctx, workflowID)
}

func (s *Service) ListWorkflows(ctx context.Context, filter workflowstore.Filter, limit int, cursor string) (workflowstore.Page, error) {
	return s.cfg.Store.List(ctx, filter, limit, cursor)
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Workflow, error) {
	return s.cfg.Store.ListActive(ctx)
}

// checkConcurrency and checkWorktreeExclusive implement spec.md §5's
// enforcement steps 1-2. Callers must hold s.mu.
func (s *Service) checkConcurrency(ctx context.Context) error {
	active, err := s.cfg.Store.CountActive(ctx)
	if err != nil {
		return err
	}
	if active >= s.cfg.MaxConcurrent {
		return &orcerr.ConcurrencyLimitError{MaxConcurrent: s.cfg.MaxConcurrent}
	}
	return nil
}

func (s *Service) checkWorktreeExclusive(ctx context.Context, worktreePath string) error {
	_, err := s.cfg.Store.GetByWorktree(ctx, worktreePath)
	if err == nil {
		return &orcerr.WorkflowConflictError{WorktreePath: worktreePath}
	}
	if _, ok := err.(*orcerr.WorkflowNotFoundError); ok {
		return nil
	}
	return err
}

func (s *Service) emit(workflowID string, eventType domain.EventType, message string, payload map[string]interface{}) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Emit(domain.WorkflowEvent{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
		EventType:  eventType,
		Level:      domain.DefaultLevel(eventType),
		Message:    message,
		Payload:    payload,
	})
}

func (s *Service) buildEngine(workflow domain.Workflow) (*graph.Engine[domain.ExecutionState], error) {
	return graphdef.New(graphdef.Deps{
		Architect:                  s.cfg.Architect,
		Reviewer:                   s.cfg.Reviewer,
		Repo:                       vcs.New(workflow.WorktreePath),
		WorktreePath:               workflow.WorktreePath,
		Bus:                        s.cfg.Bus,
		Store:                      s.cfg.Checkpoints,
		Emitter:                    s.cfg.Emitter,
		DefaultMaxReviewIterations: s.cfg.DefaultMaxReviewIterations,
		Semantic:                   s.cfg.Semantic,
		Metrics:                    s.cfg.Metrics,
	})
}
