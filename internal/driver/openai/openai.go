// Package openai adapts the teacher's graph/model/openai ChatModel to the
// orchestrator's Driver contract.
package openai

import (
	"github.com/forgeflow/orchestrator/internal/driver"
	teacheropenai "github.com/forgeflow/orchestrator/graph/model/openai"
)

// New constructs a Driver backed by an OpenAI chat model, identified in
// events as agentName (e.g. "architect", "reviewer").
func New(apiKey, modelName, agentName string) driver.Driver {
	return driver.New(teacheropenai.NewChatModel(apiKey, modelName), agentName)
}
