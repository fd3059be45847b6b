package statemachine

import (
	"errors"
	"testing"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/orcerr"
)

func TestValidateTransition_ValidEdges(t *testing.T) {
	cases := []struct {
		from, to domain.WorkflowStatus
	}{
		{domain.StatusPending, domain.StatusInProgress},
		{domain.StatusPending, domain.StatusCancelled},
		{domain.StatusInProgress, domain.StatusBlocked},
		{domain.StatusInProgress, domain.StatusCompleted},
		{domain.StatusInProgress, domain.StatusFailed},
		{domain.StatusInProgress, domain.StatusCancelled},
		{domain.StatusBlocked, domain.StatusInProgress},
		{domain.StatusBlocked, domain.StatusFailed},
		{domain.StatusBlocked, domain.StatusPlanning},
		{domain.StatusBlocked, domain.StatusCancelled},
		{domain.StatusFailed, domain.StatusInProgress},
		{domain.StatusPlanning, domain.StatusInProgress},
	}
	for _, c := range cases {
		if err := ValidateTransition(c.from, c.to); err != nil {
			t.Errorf("expected %s -> %s to be valid, got %v", c.from, c.to, err)
		}
	}
}

func TestValidateTransition_InvalidEdges(t *testing.T) {
	cases := []struct {
		from, to domain.WorkflowStatus
	}{
		{domain.StatusCompleted, domain.StatusInProgress},
		{domain.StatusCancelled, domain.StatusInProgress},
		{domain.StatusAborted, domain.StatusInProgress},
		{domain.StatusPending, domain.StatusPending},
		{domain.StatusPending, domain.StatusCompleted},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if err == nil {
			t.Errorf("expected %s -> %s to be invalid", c.from, c.to)
			continue
		}
		var typed *orcerr.InvalidStateTransitionError
		if !errors.As(err, &typed) {
			t.Errorf("expected *orcerr.InvalidStateTransitionError, got %T", err)
		}
	}
}

func TestValidateTransition_Idempotent(t *testing.T) {
	err1 := ValidateTransition(domain.StatusPending, domain.StatusInProgress)
	err2 := ValidateTransition(domain.StatusPending, domain.StatusInProgress)
	if (err1 == nil) != (err2 == nil) {
		t.Error("expected ValidateTransition to be idempotent for the same inputs")
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []domain.WorkflowStatus{domain.StatusCompleted, domain.StatusCancelled, domain.StatusAborted}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []domain.WorkflowStatus{domain.StatusPending, domain.StatusInProgress, domain.StatusBlocked, domain.StatusFailed, domain.StatusPlanning}
	for _, s := range nonTerminal {
		if IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
