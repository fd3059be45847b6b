package blocker

import (
	"context"
	"testing"

	"github.com/forgeflow/orchestrator/internal/domain"
)

func plan() domain.ExecutionPlan {
	return domain.ExecutionPlan{Batches: []domain.Batch{
		{Number: 1, Steps: []domain.Step{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
			{ID: "d"},
		}},
	}}
}

func TestResolve_SkipComputesTransitiveClosure(t *testing.T) {
	state := domain.ExecutionState{CurrentBlocker: &domain.BlockerReport{StepID: "a"}}

	delta, route, err := Resolve(context.Background(), domain.ResolutionSkip, state, plan(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route != RouteDeveloper {
		t.Fatalf("expected route developer, got %s", route)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !delta.SkippedStepIDs[id] {
			t.Errorf("expected %s to be in skipped set", id)
		}
	}
	if delta.SkippedStepIDs["d"] {
		t.Error("expected d (no dependency on a) to not be skipped")
	}
	if !delta.ClearBlocker || !delta.ClearBlockerResolution {
		t.Error("expected blocker and resolution to be cleared")
	}
}

func TestResolve_AbortSetsAbortedStatus(t *testing.T) {
	state := domain.ExecutionState{CurrentBlocker: &domain.BlockerReport{StepID: "a"}}

	delta, route, err := Resolve(context.Background(), domain.ResolutionAbort, state, plan(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route != RouteEnd {
		t.Fatalf("expected route end, got %s", route)
	}
	if delta.WorkflowStatus != domain.GraphAborted {
		t.Fatalf("expected aborted status, got %s", delta.WorkflowStatus)
	}
}

func TestResolve_FreeFormInstructionClearsAndRetries(t *testing.T) {
	state := domain.ExecutionState{CurrentBlocker: &domain.BlockerReport{StepID: "a"}}

	delta, route, err := Resolve(context.Background(), "try installing the missing dependency", state, plan(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route != RouteDeveloper {
		t.Fatalf("expected route developer, got %s", route)
	}
	if !delta.ClearBlocker {
		t.Error("expected blocker to be cleared")
	}
}

func TestResolve_EmptyInstructionIsPlainRetry(t *testing.T) {
	state := domain.ExecutionState{CurrentBlocker: &domain.BlockerReport{StepID: "a"}}

	delta, route, err := Resolve(context.Background(), "", state, plan(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route != RouteDeveloper || !delta.ClearBlocker {
		t.Fatal("expected empty resolution to clear blocker and retry via developer")
	}
}
