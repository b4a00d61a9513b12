package react

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// Message roles, matching llms.ChatMessageType.
const (
	RoleSystem = string(llms.ChatMessageTypeSystem)
	RoleHuman  = string(llms.ChatMessageTypeHuman)
	RoleAI     = string(llms.ChatMessageTypeAI)
	RoleTool   = string(llms.ChatMessageTypeTool)
)

// Message is one entry of a tool-using conversation. It holds plain values
// so it survives a run store round trip; ToLLM converts it for a model call.
type Message struct {
	// ID is optional. AddMessages replaces a message in place when an update
	// carries the same ID.
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls are the calls requested by an ai message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Parameterized is implemented by tools that describe their arguments with
// a JSON schema. Such tools receive the raw JSON arguments. Other tools take
// one string argument named input.
type Parameterized interface {
	Parameters() map[string]any
}

// AddMessages is the reducer of a messages field. It appends a Message or a
// []Message, except that a message whose ID matches an existing one
// replaces it in place.
func AddMessages(current, update any) (any, error) {
	var cur []Message
	if current != nil {
		c, ok := current.([]Message)
		if !ok {
			return nil, fmt.Errorf("current messages are %T, not []Message", current)
		}
		cur = c
	}
	var upd []Message
	switch u := update.(type) {
	case nil:
	case Message:
		upd = []Message{u}
	case []Message:
		upd = u
	default:
		return nil, fmt.Errorf("cannot add %T to messages", update)
	}

	out := make([]Message, len(cur), len(cur)+len(upd))
	copy(out, cur)
	for _, m := range upd {
		if i := indexOf(out, m.ID); i >= 0 {
			out[i] = m
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func indexOf(messages []Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// ToLLM converts messages to model input.
func ToLLM(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		msg := llms.MessageContent{Role: llms.ChatMessageType(m.Role)}
		switch m.Role {
		case RoleTool:
			msg.Parts = append(msg.Parts, llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
				Content:    m.Content,
			})
		default:
			if m.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextPart(m.Content))
			}
			for _, c := range m.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:           c.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: c.Name, Arguments: c.Arguments},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// FromChoice turns a model reply into an ai message.
func FromChoice(choice *llms.ContentChoice) Message {
	msg := Message{Role: RoleAI, Content: choice.Content}
	for _, c := range choice.ToolCalls {
		if c.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        c.ID,
			Name:      c.FunctionCall.Name,
			Arguments: c.FunctionCall.Arguments,
		})
	}
	return msg
}

// Definitions describes ts to the model.
func Definitions(ts []tools.Tool) []llms.Tool {
	defs := make([]llms.Tool, 0, len(ts))
	for _, t := range ts {
		params := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "The input for the tool",
				},
			},
			"required":             []string{"input"},
			"additionalProperties": false,
		}
		if p, ok := t.(Parameterized); ok {
			params = p.Parameters()
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return defs
}

// Executor runs tool calls by name.
type Executor struct {
	tools map[string]tools.Tool
}

// NewExecutor indexes ts by name.
func NewExecutor(ts []tools.Tool) *Executor {
	e := &Executor{tools: make(map[string]tools.Tool, len(ts))}
	for _, t := range ts {
		e.tools[t.Name()] = t
	}
	return e
}

// Execute runs call and returns the tool message answering it. Failures are
// reported to the model in the message content, never as an error, so the
// model can correct itself.
func (e *Executor) Execute(ctx context.Context, call ToolCall) Message {
	reply := Message{Role: RoleTool, ToolCallID: call.ID, Name: call.Name}
	t, ok := e.tools[call.Name]
	if !ok {
		reply.Content = fmt.Sprintf("Error: unknown tool %q", call.Name)
		return reply
	}

	input := call.Arguments
	if _, ok := t.(Parameterized); !ok {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &args); err == nil {
			if v, ok := args["input"].(string); ok {
				input = v
			}
		}
	}

	out, err := t.Call(ctx, input)
	if err != nil {
		reply.Content = fmt.Sprintf("Error: %v", err)
		return reply
	}
	reply.Content = out
	return reply
}
