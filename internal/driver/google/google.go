// Package google adapts the teacher's graph/model/google ChatModel to the
// orchestrator's Driver contract.
package google

import (
	"github.com/forgeflow/orchestrator/internal/driver"
	teachergoogle "github.com/forgeflow/orchestrator/graph/model/google"
)

// New constructs a Driver backed by a Gemini chat model, identified in
// events as agentName (e.g. "architect", "reviewer").
func New(apiKey, modelName, agentName string) driver.Driver {
	return driver.New(teachergoogle.NewChatModel(apiKey, modelName), agentName)
}
