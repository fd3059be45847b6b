package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/internal/domain"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []domain.WorkflowEvent
	streams []domain.StreamEvent
}

func (f *fakeBroadcaster) BroadcastEvent(e domain.WorkflowEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBroadcaster) BroadcastStream(e domain.StreamEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, e)
}

func TestEmit_DeliversToAllSubscribers(t *testing.T) {
	bus := New(zerolog.Nop())

	var mu sync.Mutex
	var received []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.Emit(domain.WorkflowEvent{EventType: domain.EventWorkflowStarted})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event delivered, got %d", len(received))
	}
}

func TestEmit_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(zerolog.Nop())

	var called bool
	bus.Subscribe(func(domain.WorkflowEvent) {
		panic("boom")
	})
	bus.Subscribe(func(domain.WorkflowEvent) {
		called = true
	})

	bus.Emit(domain.WorkflowEvent{EventType: domain.EventWorkflowStarted})

	if !called {
		t.Fatal("expected second subscriber to still be called despite the first panicking")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	bus := New(zerolog.Nop())

	count := 0
	id := bus.Subscribe(func(domain.WorkflowEvent) {
		count++
	})
	bus.Unsubscribe(id)

	bus.Emit(domain.WorkflowEvent{EventType: domain.EventWorkflowStarted})

	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestEmit_BroadcastsToConnectionManager(t *testing.T) {
	bus := New(zerolog.Nop())
	fb := &fakeBroadcaster{}
	bus.SetBroadcaster(fb)

	bus.Emit(domain.WorkflowEvent{EventType: domain.EventWorkflowStarted})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.events) != 1 {
		t.Fatalf("expected 1 broadcast event, got %d", len(fb.events))
	}
}

func TestEmitStream_SuppressesToolResultsByDefault(t *testing.T) {
	bus := New(zerolog.Nop())

	var received []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		received = append(received, e)
	})

	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamToolResult, WorkflowID: "wf-1"})

	if len(received) != 0 {
		t.Fatalf("expected claude_tool_result to be suppressed, got %d events", len(received))
	}
}

func TestEmitStream_PersistsWhenTraceRetentionEnabled(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Configure(7, true)

	var received []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		received = append(received, e)
	})

	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})

	if len(received) != 1 {
		t.Fatalf("expected 1 persisted trace event, got %d", len(received))
	}
}

func TestEmitStream_SkipsPersistenceWhenRetentionDisabled(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Configure(0, true)

	var received []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		received = append(received, e)
	})

	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})

	if len(received) != 0 {
		t.Fatalf("expected no persisted events when retention is 0, got %d", len(received))
	}
}

// TestEmitStream_LeavesSequenceForThePersister confirms the Bus itself
// never stamps a Sequence on a converted stream event — a persister
// subscriber (backed by workflowstore.Store.SaveEvent, the sole
// sequence authority per spec.md §4.2) is the only thing that may set
// it, so a live broadcast and a later backfill agree on a record's
// position in the log.
func TestEmitStream_LeavesSequenceForThePersister(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Configure(7, true)

	var received []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		received = append(received, e)
	})

	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})
	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})

	if len(received) != 2 || received[0].Sequence != 0 || received[1].Sequence != 0 {
		t.Fatalf("expected the bus to leave Sequence unset, got %+v", received)
	}
}

// TestSubscribe_PersisterAssignsMonotonicSequence exercises the
// production wiring pattern (cmd/forgeflowd subscribes
// workflowstore.Store.SaveEvent): the subscriber, not the Bus, is
// responsible for issuing a contiguous per-workflow sequence.
func TestSubscribe_PersisterAssignsMonotonicSequence(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Configure(7, true)

	var seq int64
	var persisted []domain.WorkflowEvent
	bus.Subscribe(func(e domain.WorkflowEvent) {
		seq++
		e.Sequence = seq
		persisted = append(persisted, e)
	})

	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})
	bus.EmitStream(domain.StreamEvent{Subtype: domain.StreamThinking, WorkflowID: "wf-1"})

	if len(persisted) != 2 || persisted[0].Sequence != 1 || persisted[1].Sequence != 2 {
		t.Fatalf("expected monotonic sequence 1, 2, got %+v", persisted)
	}
}
