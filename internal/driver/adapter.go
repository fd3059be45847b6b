package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/graph/model"
)

// maxAgenticTurns bounds the tool-calling loop in ExecuteAgentic. Grounded
// on the teacher's graph/model provider adapters, which themselves bound
// retries rather than looping unboundedly against a live API.
const maxAgenticTurns = 25

// ChatAdapter implements Driver on top of any graph/model.ChatModel,
// letting internal/driver/{anthropic,openai,google} share one
// Generate/ExecuteAgentic implementation and differ only in which concrete
// ChatModel they construct.
type ChatAdapter struct {
	Model model.ChatModel

	// AgentName labels StreamEvent.Agent (e.g. "architect", "developer",
	// "reviewer") so subscribers can tell which stage produced an event.
	AgentName string
}

// New wraps model in a ChatAdapter satisfying Driver.
func New(m model.ChatModel, agentName string) *ChatAdapter {
	return &ChatAdapter{Model: m, AgentName: agentName}
}

// Generate asks the model for a single structured response. The teacher's
// ChatModel has no native structured-output mode, so the schema is rendered
// into the system prompt as an instruction to reply with JSON matching it —
// the same "describe the schema, parse the text" idiom the teacher's own
// examples/ directory uses when a provider lacks first-class JSON mode.
func (a *ChatAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (map[string]interface{}, string, error) {
	sys := systemPrompt
	if schema != nil {
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			return nil, "", fmt.Errorf("marshal schema: %w", err)
		}
		sys = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema, and nothing else:\n%s", systemPrompt, schemaJSON)
	}

	out, err := a.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: sys},
		{Role: model.RoleUser, Content: userPrompt},
	}, nil)
	if err != nil {
		return nil, "", err
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(out.Text), &result); err != nil {
		return nil, "", fmt.Errorf("decode model response as JSON: %w", err)
	}
	return result, uuid.NewString(), nil
}

// ExecuteAgentic drives a tool-calling loop seeded with prompt, streaming
// each turn's thinking/tool-call/tool-result/final-output as a
// domain.StreamEvent. The loop terminates when the model responds with text
// and no tool calls, when maxAgenticTurns is reached, or when ctx is done.
func (a *ChatAdapter) ExecuteAgentic(ctx context.Context, prompt, cwd string) (<-chan domain.StreamEvent, error) {
	events := make(chan domain.StreamEvent)
	tools := defaultTools(cwd)
	specs := toolSpecs(tools)

	go func() {
		defer close(events)

		messages := []model.Message{{Role: model.RoleUser, Content: prompt}}

		for turn := 0; turn < maxAgenticTurns; turn++ {
			if ctx.Err() != nil {
				a.send(ctx, events, domain.StreamAgentOut, ctx.Err().Error(), "", "")
				return
			}

			out, err := a.Model.Chat(ctx, messages, specs)
			if err != nil {
				a.send(ctx, events, domain.StreamAgentOut, err.Error(), "", "")
				return
			}
			if out.Text != "" {
				a.send(ctx, events, domain.StreamThinking, out.Text, "", "")
			}
			if len(out.ToolCalls) == 0 {
				a.send(ctx, events, domain.StreamAgentOut, out.Text, "", "")
				return
			}

			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
			for _, call := range out.ToolCalls {
				inputJSON, _ := json.Marshal(call.Input)
				a.send(ctx, events, domain.StreamToolCall, "", call.Name, string(inputJSON))

				result, toolErr := runTool(ctx, tools, call)
				var resultText string
				if toolErr != nil {
					resultText = fmt.Sprintf("error: %v", toolErr)
				} else {
					resultJSON, _ := json.Marshal(result)
					resultText = string(resultJSON)
				}
				a.send(ctx, events, domain.StreamToolResult, resultText, call.Name, "")
				messages = append(messages, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("Tool %s result: %s", call.Name, resultText),
				})
			}
		}

		a.send(ctx, events, domain.StreamAgentOut, "agentic session reached the maximum number of turns", "", "")
	}()

	return events, nil
}

func (a *ChatAdapter) send(ctx context.Context, events chan<- domain.StreamEvent, subtype domain.StreamSubtype, content, toolName, toolInput string) {
	ev := domain.StreamEvent{
		Subtype:   subtype,
		Content:   content,
		ToolName:  toolName,
		ToolInput: toolInput,
		Agent:     a.AgentName,
		Timestamp: time.Now(),
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func toolSpecs(tools []agenticTool) []model.ToolSpec {
	specs := make([]model.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = model.ToolSpec{Name: t.Name(), Description: t.Description()}
	}
	return specs
}

func runTool(ctx context.Context, tools []agenticTool, call model.ToolCall) (map[string]interface{}, error) {
	for _, t := range tools {
		if t.Name() == call.Name {
			return t.Call(ctx, call.Input)
		}
	}
	return nil, fmt.Errorf("unknown tool %q", call.Name)
}
