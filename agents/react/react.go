// Package react builds a ReAct agent graph over langchaingo tools.
//
// The model step either answers or asks for tool calls. The tool step runs
// every requested call and hands the results back to the model, until the
// model answers without calling a tool or MaxIterations model calls were
// made. Each step is committed to the run store, so a long tool loop can be
// resumed after a crash.
package react

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// Step names.
const (
	StepLLM   = "llm_call"
	StepTools = "tool_node"
)

// State field names.
const (
	FieldMessages   = "messages"
	FieldIterations = "iterations"
)

const (
	// DefaultMaxIterations bounds the model calls of a run when
	// Config.MaxIterations is zero.
	DefaultMaxIterations = 20
	// DefaultSystemPrompt is used when Config.SystemPrompt is empty.
	DefaultSystemPrompt = "You are a helpful assistant. Use the provided tools when they help answer the question."
	// MaxIterationsMessage is the final answer of a run that ran out of
	// model calls.
	MaxIterationsMessage = "Maximum iterations reached. Please try a simpler query."
)

var (
	// ErrNoModel is returned by New when Config.Model is nil.
	ErrNoModel = errors.New("react: model is required")
	// ErrNoTools is returned by New when Config.Tools is empty.
	ErrNoTools = errors.New("react: at least one tool is required")
	// ErrEmptyReply is returned by the model step when the model gives no
	// choices.
	ErrEmptyReply = errors.New("react: model returned no choices")
)

// Config holds the collaborators of the graph.
type Config struct {
	Model         llms.Model
	Tools         []tools.Tool
	SystemPrompt  string
	MaxIterations int
	Logger        log.Logger
	Name          string
}

type agent struct {
	model         llms.Model
	executor      *Executor
	defs          []llms.Tool
	systemPrompt  string
	maxIterations int
	logger        log.Logger
}

// NewSchema declares the fields of a ReAct run.
func NewSchema() *graph.Schema {
	return graph.NewSchema(
		graph.AppendField[Message](FieldMessages, graph.WithReducer(AddMessages)),
		graph.FieldOf[int](FieldIterations, graph.WithDefault(0)),
	)
}

// Input returns the initial fields of a run for question.
func Input(question string) graph.State {
	return graph.State{FieldMessages: []Message{{Role: RoleHuman, Content: question}}}
}

// Answer returns the content of the last ai message of state.
func Answer(state graph.State) string {
	messages := graph.GetOr[[]Message](state, FieldMessages, nil)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAI {
			return messages[i].Content
		}
	}
	return ""
}

// New builds the graph.
func New(cfg Config) (*graph.StateGraph, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	if len(cfg.Tools) == 0 {
		return nil, ErrNoTools
	}
	a := &agent{
		model:         cfg.Model,
		executor:      NewExecutor(cfg.Tools),
		defs:          Definitions(cfg.Tools),
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger,
	}
	if a.systemPrompt == "" {
		a.systemPrompt = DefaultSystemPrompt
	}
	if a.maxIterations <= 0 {
		a.maxIterations = DefaultMaxIterations
	}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	name := cfg.Name
	if name == "" {
		name = "react"
	}

	g := graph.NewStateGraph(graph.WithName(name), graph.WithSchema(NewSchema()))
	g.AddNode(StepLLM, "Answer or request tool calls", a.call,
		graph.WithReads(FieldMessages, FieldIterations),
		graph.WithWrites(FieldMessages, FieldIterations))
	g.AddNode(StepTools, "Run the requested tools", a.runTools,
		graph.WithReads(FieldMessages),
		graph.WithWrites(FieldMessages))

	g.SetEntryPoint(StepLLM)
	g.AddConditionalEdges(StepLLM, RouteToolCalls, map[string]string{
		"tools": StepTools,
		"done":  graph.END,
	})
	g.AddEdge(StepTools, StepLLM)
	return g, nil
}

// RouteToolCalls returns "tools" when the last message asks for tool calls
// and "done" otherwise.
func RouteToolCalls(_ context.Context, state graph.State) string {
	if len(pendingCalls(state)) > 0 {
		return "tools"
	}
	return "done"
}

func pendingCalls(state graph.State) []ToolCall {
	messages := graph.GetOr[[]Message](state, FieldMessages, nil)
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != RoleAI {
		return nil
	}
	return last.ToolCalls
}

func (a *agent) call(ctx context.Context, state graph.State) (*graph.Command, error) {
	n := graph.GetOr(state, FieldIterations, 0)
	if n >= a.maxIterations {
		a.logger.Warn("stopping after %d model calls", n)
		return graph.Update(graph.State{
			FieldMessages: Message{Role: RoleAI, Content: MaxIterationsMessage},
		}), nil
	}

	input := append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, a.systemPrompt)},
		ToLLM(graph.GetOr[[]Message](state, FieldMessages, nil))...)
	resp, err := a.model.GenerateContent(ctx, input, llms.WithTools(a.defs))
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyReply
	}

	msg := FromChoice(resp.Choices[0])
	a.logger.Debug("model call %d requested %d tool calls", n+1, len(msg.ToolCalls))
	return graph.Update(graph.State{
		FieldMessages:   msg,
		FieldIterations: n + 1,
	}), nil
}

func (a *agent) runTools(ctx context.Context, state graph.State) (*graph.Command, error) {
	calls := pendingCalls(state)
	if len(calls) == 0 {
		return nil, errors.New("react: last message has no tool calls")
	}
	replies := make([]Message, 0, len(calls))
	for _, c := range calls {
		reply := a.executor.Execute(ctx, c)
		a.logger.Debug("tool %s(%s) -> %s", c.Name, c.Arguments, reply.Content)
		replies = append(replies, reply)
	}
	return graph.Update(graph.State{FieldMessages: replies}), nil
}
