// Package driver defines the external LLM-driver contract (spec.md §1) and
// an adapter that satisfies it on top of the teacher's graph/model.ChatModel
// transport. The core never talks to a provider SDK directly — it only
// depends on Generate (structured output) and ExecuteAgentic (a streamed
// tool-using session), exactly as spec.md §1 scopes the driver out of the
// core and specifies it by contract only.
package driver

import (
	"context"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Driver is the contract the orchestration core depends on. Concrete
// implementations (internal/driver/anthropic, openai, google, mock) compose
// a graph/model.ChatModel and are free to differ in prompt construction,
// retry policy, and tool wiring.
type Driver interface {
	// Generate sends a composed prompt and asks for a response shaped by
	// schema (a JSON Schema document). It returns the decoded object and an
	// opaque session id the caller may persist (domain.ExecutionState's
	// DriverSessionID) for correlating subsequent calls in logs.
	Generate(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (map[string]interface{}, string, error)

	// ExecuteAgentic runs an open-ended, tool-using session rooted at cwd
	// and starting from prompt. It streams fine-grained progress — thinking,
	// tool calls, tool results, final output — until the session concludes,
	// then closes the channel. The channel is never closed without a final
	// StreamAgentOut event unless ctx is canceled or an error occurs, in
	// which case the error is delivered as the last event's Content.
	ExecuteAgentic(ctx context.Context, prompt, cwd string) (<-chan domain.StreamEvent, error)
}
