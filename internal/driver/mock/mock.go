// Package mock provides a Driver backed by the teacher's
// graph/model.MockChatModel, for exercising internal/graphdef and
// internal/orchestrator without a live provider.
package mock

import (
	"github.com/forgeflow/orchestrator/graph/model"
	"github.com/forgeflow/orchestrator/internal/driver"
)

// New returns a Driver whose Generate calls are answered by responses in
// order (each response's Text must be the JSON object Generate's caller
// expects back), repeating the last response once exhausted — same
// semantics as model.MockChatModel.Responses.
func New(agentName string, responses ...string) driver.Driver {
	out := make([]model.ChatOut, len(responses))
	for i, r := range responses {
		out[i] = model.ChatOut{Text: r}
	}
	return driver.New(&model.MockChatModel{Responses: out}, agentName)
}

// NewWithModel wraps an already-configured MockChatModel, for tests that
// need to inject errors or inspect Calls after the fact.
func NewWithModel(m *model.MockChatModel, agentName string) driver.Driver {
	return driver.New(m, agentName)
}
