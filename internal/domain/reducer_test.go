package domain

import "testing"

func TestReduce_SkippedStepIDsUnion(t *testing.T) {
	prev := ExecutionState{SkippedStepIDs: map[string]bool{"step-a": true}}
	delta := ExecutionState{SkippedStepIDs: map[string]bool{"step-b": true, "step-c": true}}

	out := Reduce(prev, delta)

	for _, id := range []string{"step-a", "step-b", "step-c"} {
		if !out.SkippedStepIDs[id] {
			t.Errorf("expected %q to be in the unioned skip set", id)
		}
	}
	if len(out.SkippedStepIDs) != 3 {
		t.Errorf("expected 3 skipped ids, got %d", len(out.SkippedStepIDs))
	}
}

func TestReduce_BatchResultsAppendOnly(t *testing.T) {
	prev := ExecutionState{BatchResults: []BatchResult{{BatchNumber: 1, Status: BatchComplete}}}
	delta := ExecutionState{BatchResults: []BatchResult{{BatchNumber: 2, Status: BatchComplete}}}

	out := Reduce(prev, delta)

	if len(out.BatchResults) != 2 {
		t.Fatalf("expected 2 batch results, got %d", len(out.BatchResults))
	}
	if out.BatchResults[0].BatchNumber != 1 || out.BatchResults[1].BatchNumber != 2 {
		t.Errorf("expected batch results in order, got %+v", out.BatchResults)
	}
}

func TestReduce_ClearBlockerFlag(t *testing.T) {
	prev := ExecutionState{
		CurrentBlocker:    &BlockerReport{StepID: "step-1", BlockerType: BlockerCommandFailed},
		BlockerResolution: ResolutionSkip,
	}
	delta := ExecutionState{ClearBlocker: true, ClearBlockerResolution: true}

	out := Reduce(prev, delta)

	if out.CurrentBlocker != nil {
		t.Errorf("expected CurrentBlocker cleared, got %+v", out.CurrentBlocker)
	}
	if out.BlockerResolution != "" {
		t.Errorf("expected BlockerResolution cleared, got %q", out.BlockerResolution)
	}
	if out.ClearBlocker || out.ClearBlockerResolution {
		t.Error("expected control flags reset on the merged result")
	}
}

func TestReduce_HumanApprovedClearedAfterConsumption(t *testing.T) {
	approved := true
	prev := ExecutionState{HumanApproved: &approved}
	delta := ExecutionState{ClearHumanApproved: true}

	out := Reduce(prev, delta)

	if out.HumanApproved != nil {
		t.Errorf("expected HumanApproved cleared, got %v", *out.HumanApproved)
	}
}

func TestProfileValidate_WorkProfileRejectsAPIDriver(t *testing.T) {
	p := Profile{Name: "work", Driver: DriverAPIOpenAI}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for work profile with API driver")
	}

	p2 := Profile{Name: "work", Driver: DriverCLIClaude}
	if err := p2.Validate(); err != nil {
		t.Errorf("expected no error for work profile with CLI driver, got %v", err)
	}
}

func TestBatchSizeLimit(t *testing.T) {
	cases := map[RiskLevel]int{RiskLow: 5, RiskMedium: 3, RiskHigh: 1}
	for risk, want := range cases {
		if got := BatchSizeLimit(risk); got != want {
			t.Errorf("BatchSizeLimit(%s) = %d, want %d", risk, got, want)
		}
	}
}
