package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/graph/emit"
	"github.com/forgeflow/orchestrator/graph/store"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/driver/mock"
	"github.com/forgeflow/orchestrator/internal/eventbus"
	"github.com/forgeflow/orchestrator/internal/graphdef"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

// newScenarioService builds a Service with a caller-supplied profile set,
// for the six end-to-end scenarios below (spec.md's six named scenarios,
// lines 326-349). Reviewer is only ever consulted once all batches have
// run, so one canned approval covers every scenario that reaches it.
// The returned checkpoint store lets tests load the final ExecutionState
// a workflow reached — the BatchApproval/BatchResult/SkippedStepIDs
// detail the review comments ask these tests to confirm isn't otherwise
// observable through the Workflow record Service.GetWorkflow returns.
func newScenarioService(t *testing.T, profiles map[string]domain.Profile) (*Service, store.Store[domain.ExecutionState]) {
	t.Helper()
	checkpoints := store.NewMemStore[domain.ExecutionState]()
	svc := New(Config{
		Store:         workflowstore.NewMemStore(),
		Bus:           eventbus.New(zerolog.Nop()),
		Profiles:      profiles,
		Architect:     mock.New("architect", `{"goal":"g","batches":[]}`),
		Reviewer:      mock.New("reviewer", `{"approved":true,"comments":[]}`),
		Checkpoints:   checkpoints,
		Emitter:       emit.NewNullEmitter(),
		MaxConcurrent: 5,
	})
	return svc, checkpoints
}

func loadState(t *testing.T, checkpoints store.Store[domain.ExecutionState], workflowID string) domain.ExecutionState {
	t.Helper()
	state, _, err := checkpoints.LoadLatest(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("LoadLatest(%s): %v", workflowID, err)
	}
	return state
}

func okStep(id string) domain.Step {
	return domain.Step{ID: id, Description: id, ActionType: domain.ActionCommand, Command: "true", RiskLevel: domain.RiskLow}
}

func failingStep(id string, dependsOn ...string) domain.Step {
	return domain.Step{ID: id, Description: id, ActionType: domain.ActionCommand, Command: "false", RiskLevel: domain.RiskLow, DependsOn: dependsOn}
}

// Scenario 1: happy path, 3 batches (risk low/medium/high), standard
// trust, batch checkpoint on — every batch is gated by a human approval.
func TestScenario_ThreeBatchHappyPath(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{
		"default": {Name: "default", Trust: domain.TrustStandard, BatchCheckpoint: true},
	}
	svc, checkpoints := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{okStep("b1s1")}},
			{Number: 2, RiskSummary: domain.RiskMedium, Steps: []domain.Step{okStep("b2s1")}},
			{Number: 3, RiskSummary: domain.RiskHigh, Steps: []domain.Step{okStep("b3s1")}},
		},
	}
	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id)

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second) // batch_approval before batch 2
	mustApprove(t, svc, id)

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second) // batch_approval before batch 3
	mustApprove(t, svc, id)

	w := waitForStatus(t, svc, id, domain.StatusCompleted, time.Second)
	if w.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", w.Status)
	}

	state := loadState(t, checkpoints, id)
	if len(state.BatchApprovals) != 2 {
		t.Fatalf("expected exactly 2 BatchApprovals, got %d: %+v", len(state.BatchApprovals), state.BatchApprovals)
	}
	if len(state.BatchResults) != 3 {
		t.Fatalf("expected 3 BatchResults, got %d", len(state.BatchResults))
	}
	for _, r := range state.BatchResults {
		if r.Status != domain.BatchComplete {
			t.Errorf("batch %d: expected complete, got %s", r.BatchNumber, r.Status)
		}
	}
	if state.LastReview == nil || !state.LastReview.Approved {
		t.Fatalf("expected an approved review, got %+v", state.LastReview)
	}
}

// Scenario 2: a mid-run batch rejection stops the workflow before the
// final batch ever runs.
func TestScenario_BatchRejectionMidRun(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{
		"default": {Name: "default", Trust: domain.TrustStandard, BatchCheckpoint: true},
	}
	svc, checkpoints := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{okStep("b1s1")}},
			{Number: 2, RiskSummary: domain.RiskMedium, Steps: []domain.Step{okStep("b2s1")}},
			{Number: 3, RiskSummary: domain.RiskHigh, Steps: []domain.Step{okStep("b3s1")}},
		},
	}
	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id)

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second) // batch_approval before batch 2
	mustApprove(t, svc, id)

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second) // batch_approval before batch 3
	if err := svc.RejectAtInterrupt(context.Background(), id, "found a problem in batch 2"); err != nil {
		t.Fatalf("RejectAtInterrupt: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusCompleted, time.Second)

	state := loadState(t, checkpoints, id)
	if len(state.BatchApprovals) != 2 {
		t.Fatalf("expected exactly 2 BatchApprovals, got %d: %+v", len(state.BatchApprovals), state.BatchApprovals)
	}
	if !state.BatchApprovals[0].Approved || state.BatchApprovals[1].Approved {
		t.Fatalf("expected approvals (true, false), got %+v", state.BatchApprovals)
	}
	if len(state.BatchResults) != 2 {
		t.Fatalf("expected exactly 2 BatchResults (no batch 3), got %d", len(state.BatchResults))
	}
	for _, r := range state.BatchResults {
		if r.BatchNumber == 3 {
			t.Fatal("batch 3 must not have executed after a rejection at its own checkpoint")
		}
	}
}

// Scenario 3: a blocker resolved with "skip" cascades to every step that
// (directly or transitively) depends on the blocked one.
func TestScenario_BlockerSkipCascade(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{"default": {Name: "default"}}
	svc, checkpoints := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{
				okStep("a"),
				failingStep("b"),
				{ID: "c", Description: "c", ActionType: domain.ActionCommand, Command: "true", RiskLevel: domain.RiskLow, DependsOn: []string{"b"}},
			}},
		},
	}

	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id) // plan approval

	w := waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	if w.CurrentStage != graphdef.NodeBlockerResolution {
		t.Fatalf("expected suspension at blocker_resolution, got %s", w.CurrentStage)
	}

	if err := svc.ResolveBlocker(context.Background(), id, domain.ResolutionSkip); err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusCompleted, time.Second)

	state := loadState(t, checkpoints, id)
	if !state.SkippedStepIDs["b"] || !state.SkippedStepIDs["c"] {
		t.Fatalf("expected b and c to be skipped, got %+v", state.SkippedStepIDs)
	}
	last := state.BatchResults[len(state.BatchResults)-1]
	if last.Status != domain.BatchComplete {
		t.Fatalf("expected the retried batch to complete, got %s", last.Status)
	}
	var sawB, sawC bool
	for _, r := range last.CompletedSteps {
		if r.StepID == "b" {
			sawB = r.Status == domain.StepSkipped
		}
		if r.StepID == "c" {
			sawC = r.Status == domain.StepSkipped
		}
	}
	if !sawB || !sawC {
		t.Fatalf("expected b and c to be recorded as skipped steps, got %+v", last.CompletedSteps)
	}
}

// Scenario 4: a blocker resolved with "abort_revert" rolls the worktree
// back to the snapshot taken before the blocked batch ran and aborts.
func TestScenario_BlockerAbortRevert(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{"default": {Name: "default"}}
	svc, _ := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{
				{ID: "write", Description: "write", ActionType: domain.ActionCode, FilePath: "file.txt", CodeChange: "changed", RiskLevel: domain.RiskLow},
				failingStep("boom"),
			}},
		},
	}

	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id) // plan approval

	w := waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	if w.CurrentStage != graphdef.NodeBlockerResolution {
		t.Fatalf("expected suspension at blocker_resolution, got %s", w.CurrentStage)
	}

	changed, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	if err != nil {
		t.Fatalf("read changed file: %v", err)
	}
	if string(changed) != "changed" {
		t.Fatalf("expected the batch's write to have landed before revert, got %q", changed)
	}

	if err := svc.ResolveBlocker(context.Background(), id, domain.ResolutionAbortRevert); err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}

	w = waitForStatus(t, svc, id, domain.StatusCancelled, time.Second)
	if w.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled after abort_revert, got %s", w.Status)
	}

	reverted, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	if err != nil {
		t.Fatalf("read reverted file: %v", err)
	}
	if string(reverted) != "initial" {
		t.Fatalf("expected abort_revert to restore file.txt to its pre-batch content, got %q", reverted)
	}
}

// Scenario 5: a blocker resolved with a free-form fix instruction clears
// the blocker and retries the batch via the developer stage.
func TestScenario_BlockerFixInstructionRetry(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{"default": {Name: "default"}}
	svc, checkpoints := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{
				{ID: "check", Description: "check marker", ActionType: domain.ActionCommand, Command: "ls marker.txt", RiskLevel: domain.RiskLow},
			}},
		},
	}

	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id) // plan approval

	w := waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	if w.CurrentStage != graphdef.NodeBlockerResolution {
		t.Fatalf("expected suspension at blocker_resolution, got %s", w.CurrentStage)
	}

	// The human's out-of-band fix: create the file the check step needs,
	// then tell the workflow to retry.
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("present"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := svc.ResolveBlocker(context.Background(), id, "created the missing marker file, please retry"); err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusCompleted, time.Second)

	state := loadState(t, checkpoints, id)
	last := state.BatchResults[len(state.BatchResults)-1]
	if last.Status != domain.BatchComplete {
		t.Fatalf("expected the retried batch to complete once the marker exists, got %s", last.Status)
	}
}

// Scenario 6: autonomous trust only skips a batch-approval checkpoint
// when the next batch is low risk; a high-risk next batch still gates
// on a human approval, numbered by the plan's own batch.Number (the
// off-by-one this covers: batchApprovalNode must name batch 2, not
// batch 1, and not a bare array index).
func TestScenario_AutonomousTrustGatesHighRiskBatch(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	profiles := map[string]domain.Profile{
		"default": {Name: "default", Trust: domain.TrustAutonomous, BatchCheckpoint: true},
	}
	svc, checkpoints := newScenarioService(t, profiles)

	plan := domain.ExecutionPlan{
		Goal: "ship it",
		Batches: []domain.Batch{
			{Number: 1, RiskSummary: domain.RiskLow, Steps: []domain.Step{okStep("b1s1")}},
			{Number: 2, RiskSummary: domain.RiskHigh, Steps: []domain.Step{okStep("b2s1")}},
		},
	}

	id, err := svc.StartWorkflow(context.Background(), "ISSUE-1", dir, "default", StartOptions{PlanExternal: true, Plan: &plan})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	mustApprove(t, svc, id) // plan approval

	w := waitForStatus(t, svc, id, domain.StatusBlocked, time.Second)
	if w.CurrentStage != graphdef.NodeBatchApproval {
		t.Fatalf("expected suspension at batch_approval for the high-risk batch 2, got %s", w.CurrentStage)
	}
	mustApprove(t, svc, id)

	w = waitForStatus(t, svc, id, domain.StatusCompleted, time.Second)
	if w.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", w.Status)
	}

	state := loadState(t, checkpoints, id)
	if len(state.BatchApprovals) != 1 {
		t.Fatalf("expected exactly 1 BatchApproval, got %d: %+v", len(state.BatchApprovals), state.BatchApprovals)
	}
	if state.BatchApprovals[0].BatchNumber != 2 {
		t.Fatalf("expected the approval to name batch 2, got batch %d", state.BatchApprovals[0].BatchNumber)
	}
	if len(state.BatchResults) != 2 {
		t.Fatalf("expected 2 BatchResults, got %d", len(state.BatchResults))
	}
}

func mustApprove(t *testing.T, svc *Service, workflowID string) {
	t.Helper()
	if err := svc.ApproveAtInterrupt(context.Background(), workflowID); err != nil {
		t.Fatalf("ApproveAtInterrupt: %v", err)
	}
}
