// Package anthropic adapts the teacher's graph/model/anthropic ChatModel to
// the orchestrator's Driver contract.
package anthropic

import (
	"github.com/forgeflow/orchestrator/internal/driver"
	teacheranthropic "github.com/forgeflow/orchestrator/graph/model/anthropic"
)

// New constructs a Driver backed by Anthropic's Claude, identified in
// events as agentName (e.g. "architect", "reviewer").
func New(apiKey, modelName, agentName string) driver.Driver {
	return driver.New(teacheranthropic.NewChatModel(apiKey, modelName), agentName)
}
