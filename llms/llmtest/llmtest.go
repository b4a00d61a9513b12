// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoResponse is returned when a Model has no reply for a prompt.
var ErrNoResponse = errors.New("llmtest: no scripted response")

// Rule answers prompts containing Match. An empty Match answers anything.
type Rule struct {
	Match    string
	Response string
	// ToolCalls are returned with Response when the caller offered tools.
	ToolCalls []llms.ToolCall
	Err       error
}

// Model replies with the first rule whose Match occurs in the prompt text.
// Rules are reused, so one rule can answer repeated calls.
type Model struct {
	mu      sync.Mutex
	rules   []Rule
	prompts []string
}

var _ llms.Model = (*Model)(nil)

// New returns a Model with the given rules.
func New(rules ...Rule) *Model {
	return &Model{rules: rules}
}

// On adds a rule answering prompts that contain match.
func (m *Model) On(match, response string) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, Rule{Match: match, Response: response})
	return m
}

// Fail adds a rule returning err for prompts that contain match.
func (m *Model) Fail(match string, err error) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, Rule{Match: match, Err: err})
	return m
}

// OnToolCall adds a rule answering prompts that contain match with calls.
// Tool calls and tool responses appear in the prompt text as
// "call name(arguments)" and "tool name: content", so a later rule can
// match on a result.
func (m *Model) OnToolCall(match string, calls ...llms.ToolCall) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, Rule{Match: match, ToolCalls: calls})
	return m
}

// Call returns a function tool call for name with JSON arguments.
func Call(id, name, arguments string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: arguments},
	}
}

// Prompts returns every prompt seen so far.
func (m *Model) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Call implements llms.Model.
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements llms.Model.
func (m *Model) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	var sb strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				sb.WriteString(p.Text)
			case llms.ToolCall:
				if p.FunctionCall == nil {
					continue
				}
				fmt.Fprintf(&sb, "call %s(%s)", p.FunctionCall.Name, p.FunctionCall.Arguments)
			case llms.ToolCallResponse:
				fmt.Fprintf(&sb, "tool %s: %s", p.Name, p.Content)
			default:
				continue
			}
			sb.WriteString("\n")
		}
	}
	prompt := sb.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	for _, r := range m.rules {
		if strings.Contains(prompt, r.Match) {
			if r.Err != nil {
				return nil, r.Err
			}
			choice := &llms.ContentChoice{Content: r.Response, StopReason: "stop"}
			if len(r.ToolCalls) > 0 && len(opts.Tools) > 0 {
				choice.ToolCalls = append([]llms.ToolCall(nil), r.ToolCalls...)
				choice.StopReason = "tool_calls"
			}
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
		}
	}
	return nil, ErrNoResponse
}
