// Package eventbus implements the synchronous pub/sub Event Bus
// (spec.md §4.1), grounded on
// original_source/amelia/server/events/bus.py: subscribers are called
// in registration order and must not block; WebSocket fan-out runs in
// a background goroutine tracked for graceful shutdown.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Subscriber receives every emitted WorkflowEvent. Implementations
// must not block — Emit calls subscribers synchronously in the
// caller's goroutine.
type Subscriber func(domain.WorkflowEvent)

// SubscriptionID identifies a previously registered Subscriber so it
// can be removed (Go func values aren't comparable, so identity is
// tracked by this handle instead of the callback itself).
type SubscriptionID uint64

// Broadcaster fans events out to connected clients (the WS transport,
// internal/wsapi, implements this).
type Broadcaster interface {
	BroadcastEvent(domain.WorkflowEvent)
	BroadcastStream(domain.StreamEvent)
}

// Bus is a single-process event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[SubscriptionID]Subscriber
	nextID      SubscriptionID
	broadcaster Broadcaster

	traceRetentionDays int
	streamToolResults  bool

	wg sync.WaitGroup
}

// New returns a Bus with no subscribers and default configuration
// (trace retention 7 days, tool-result streaming suppressed).
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:                log,
		subscribers:        make(map[SubscriptionID]Subscriber),
		traceRetentionDays: 7,
	}
}

// Subscribe registers callback and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(callback Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = callback
	return id
}

// Unsubscribe removes a previously registered callback. A no-op if id
// is unknown (already removed).
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// SetBroadcaster installs the WebSocket fan-out target.
func (b *Bus) SetBroadcaster(br Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcaster = br
}

// Configure sets trace retention (days; 0 disables persisting trace
// events, WebSocket broadcast still happens) and whether
// claude_tool_result stream events are forwarded at all.
func (b *Bus) Configure(traceRetentionDays int, streamToolResults bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.traceRetentionDays = traceRetentionDays
	b.streamToolResults = streamToolResults
}

// Emit delivers event to every subscriber synchronously, in
// registration order; a panicking or erroring subscriber is logged
// and does not prevent delivery to the rest. It then fans the event
// out to the broadcaster (if any) in a tracked background goroutine.
func (b *Bus) Emit(event domain.WorkflowEvent) {
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	broadcaster := b.broadcaster
	b.mu.Unlock()

	for _, s := range subs {
		b.callSubscriber(s, event)
	}

	if broadcaster != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			broadcaster.BroadcastEvent(event)
		}()
	}
}

func (b *Bus) callSubscriber(s Subscriber, event domain.WorkflowEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event_type", string(event.EventType)).Msg("subscriber panicked")
		}
	}()
	s(event)
}

// EmitStream broadcasts a StreamEvent for real-time display and,
// when trace retention is enabled, converts it to a WorkflowEvent and
// runs it through Emit like any other event — the converted event's
// Sequence is left unset here; whatever subscriber persists it (see
// workflowstore.Store.SaveEvent) is the sole sequence authority, so a
// replayed backfill and a live broadcast never disagree about a
// record's position in the log. claude_tool_result events are dropped
// entirely unless streamToolResults was enabled via Configure.
func (b *Bus) EmitStream(event domain.StreamEvent) {
	b.mu.Lock()
	retentionDays := b.traceRetentionDays
	suppressToolResults := !b.streamToolResults
	broadcaster := b.broadcaster
	b.mu.Unlock()

	if event.Subtype == domain.StreamToolResult && suppressToolResults {
		return
	}

	if retentionDays > 0 {
		b.Emit(b.toWorkflowEvent(event))
	}

	if broadcaster != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			broadcaster.BroadcastStream(event)
		}()
	}
}

func (b *Bus) toWorkflowEvent(event domain.StreamEvent) domain.WorkflowEvent {
	eventType := domain.EventStream
	switch event.Subtype {
	case domain.StreamThinking, domain.StreamToolCall, domain.StreamToolResult, domain.StreamAgentOut:
		eventType = domain.EventAgentMessage
	}

	return domain.WorkflowEvent{
		WorkflowID: event.WorkflowID,
		Timestamp:  event.Timestamp,
		Agent:      event.Agent,
		EventType:  eventType,
		Level:      domain.DefaultLevel(eventType),
		Message:    traceMessage(event),
		Payload:    tracePayload(event),
	}
}

func traceMessage(event domain.StreamEvent) string {
	switch event.Subtype {
	case domain.StreamThinking:
		return "Agent thinking"
	case domain.StreamToolCall:
		tool := event.ToolName
		if tool == "" {
			tool = "unknown"
		}
		return "Tool call: " + tool
	case domain.StreamToolResult:
		tool := event.ToolName
		if tool == "" {
			tool = "unknown"
		}
		return "Tool result: " + tool
	case domain.StreamAgentOut:
		return "Agent output"
	default:
		return "Stream event: " + string(event.Subtype)
	}
}

func tracePayload(event domain.StreamEvent) map[string]interface{} {
	if event.Content == "" {
		return nil
	}
	return map[string]interface{}{"content": event.Content}
}

// Shutdown waits for all in-flight broadcast goroutines to finish, or
// until ctx is done, whichever comes first.
func (b *Bus) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
