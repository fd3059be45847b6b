package graphdef

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/eventbus"
)

// runIDFromContext reads the run id an orchestrator.Service binds into ctx
// before calling Engine.RunInterruptible/Resume (graph.RunIDKey). Node
// bodies have no other way to learn their own workflow id: it is the
// thread-id a run is keyed by, not a field of ExecutionState itself.
func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(graph.RunIDKey).(string)
	return id
}

func emitEvent(ctx context.Context, bus *eventbus.Bus, eventType domain.EventType, message string, payload map[string]interface{}) {
	if bus == nil {
		return
	}
	bus.Emit(domain.WorkflowEvent{
		ID:         uuid.NewString(),
		WorkflowID: runIDFromContext(ctx),
		Timestamp:  time.Now(),
		EventType:  eventType,
		Level:      domain.DefaultLevel(eventType),
		Message:    message,
		Payload:    payload,
	})
}

func emitAgentMessage(ctx context.Context, bus *eventbus.Bus, agent, message string) {
	if bus == nil {
		return
	}
	bus.Emit(domain.WorkflowEvent{
		ID:         uuid.NewString(),
		WorkflowID: runIDFromContext(ctx),
		Timestamp:  time.Now(),
		Agent:      agent,
		EventType:  domain.EventAgentMessage,
		Level:      domain.DefaultLevel(domain.EventAgentMessage),
		Message:    message,
	})
}
