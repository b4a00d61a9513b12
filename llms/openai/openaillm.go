// Package openai adapts github.com/sashabaranov/go-openai to the
// langchaingo llms.Model interface used by the agents.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrEmptyResponse = errors.New("no response")
	ErrNotSetAuth    = errors.New("api key not set")
)

// LLM is a chat completion client for OpenAI compatible APIs.
type LLM struct {
	client           *goopenai.Client
	model            string
	embeddingModel   string
	callOptions      []llms.CallOption
	CallbacksHandler callbacks.Handler
}

var _ llms.Model = (*LLM)(nil)

// New returns a new LLM. The API key comes from WithAPIKey or the
// OPENAI_API_KEY environment variable.
//
//	llm, err := openai.New(
//		openai.WithModel("gpt-4o-mini"),
//		openai.WithBaseURL("http://localhost:11434/v1"),
//	)
func New(opts ...Option) (*LLM, error) {
	options := &options{
		apiKey:         getEnvOrDefault("OPENAI_API_KEY", ""),
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.apiKey == "" {
		return nil, fmt.Errorf("%w: pass openai.WithAPIKey or export OPENAI_API_KEY", ErrNotSetAuth)
	}

	cfg := goopenai.DefaultConfig(options.apiKey)
	if options.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(options.baseURL, "/")
	}
	if options.organization != "" {
		cfg.OrgID = options.organization
	}
	if options.httpClient != nil {
		cfg.HTTPClient = options.httpClient
	}

	return &LLM{
		client:           goopenai.NewClientWithConfig(cfg),
		model:            options.model,
		embeddingModel:   options.embeddingModel,
		callOptions:      options.callOptions,
		CallbacksHandler: options.callbacksHandler,
	}, nil
}

// Call generates a response from the LLM for the given prompt.
func (o *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o, prompt, options...)
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if o.CallbacksHandler != nil {
		o.CallbacksHandler.HandleLLMGenerateContentStart(ctx, messages)
	}

	opts := &llms.CallOptions{}
	for _, opt := range o.callOptions {
		opt(opts)
	}
	for _, opt := range options {
		opt(opts)
	}

	req := goopenai.ChatCompletionRequest{
		Model:       o.modelFor(*opts),
		Messages:    toChatMessages(messages),
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.StopWords,
		Seed:        seed(opts.Seed),
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if len(req.Tools) > 0 && opts.ToolChoice != nil {
		req.ToolChoice = toolChoice(opts.ToolChoice)
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	result, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.handleErr(ctx, err)
		return nil, err
	}
	if len(result.Choices) == 0 {
		o.handleErr(ctx, ErrEmptyResponse)
		return nil, ErrEmptyResponse
	}

	resp := &llms.ContentResponse{Choices: make([]*llms.ContentChoice, 0, len(result.Choices))}
	for _, c := range result.Choices {
		resp.Choices = append(resp.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			ToolCalls:  fromToolCalls(c.Message.ToolCalls),
			GenerationInfo: map[string]any{
				"prompt_tokens":     result.Usage.PromptTokens,
				"completion_tokens": result.Usage.CompletionTokens,
				"total_tokens":      result.Usage.TotalTokens,
			},
		})
	}

	// The whole answer is delivered as one chunk.
	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(resp.Choices[0].Content)); err != nil {
			return nil, err
		}
	}

	if o.CallbacksHandler != nil {
		o.CallbacksHandler.HandleLLMGenerateContentEnd(ctx, resp)
	}
	return resp, nil
}

// CreateEmbedding returns one vector per text.
func (o *LLM) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmptyResponse, len(resp.Data), len(texts))
	}

	emb := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		emb[d.Index] = d.Embedding
	}
	return emb, nil
}

func (o *LLM) handleErr(ctx context.Context, err error) {
	if o.CallbacksHandler != nil {
		o.CallbacksHandler.HandleLLMError(ctx, err)
	}
}

func (o *LLM) modelFor(opts llms.CallOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return o.model
}

func seed(s int) *int {
	if s == 0 {
		return nil
	}
	return &s
}

func toChatMessages(messages []llms.MessageContent) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			role = goopenai.ChatMessageRoleSystem
		case llms.ChatMessageTypeAI:
			role = goopenai.ChatMessageRoleAssistant
		case llms.ChatMessageTypeTool:
			role = goopenai.ChatMessageRoleTool
		default:
			role = goopenai.ChatMessageRoleUser
		}

		out = append(out, toChatMessage(role, msg.Parts)...)
	}
	return out
}

// toChatMessage maps one message. Each tool response becomes its own tool
// message, as the API expects one per call id.
func toChatMessage(role string, parts []llms.ContentPart) []goopenai.ChatCompletionMessage {
	msg := goopenai.ChatCompletionMessage{Role: role}
	var content strings.Builder
	var replies []goopenai.ChatCompletionMessage
	for _, part := range parts {
		switch p := part.(type) {
		case llms.TextContent:
			content.WriteString(p.Text)
		case llms.ToolCall:
			if p.FunctionCall == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   p.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Arguments,
				},
			})
		case llms.ToolCallResponse:
			replies = append(replies, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    p.Content,
				Name:       p.Name,
				ToolCallID: p.ToolCallID,
			})
		}
	}
	if len(replies) > 0 && content.Len() == 0 && len(msg.ToolCalls) == 0 {
		return replies
	}
	msg.Content = content.String()
	return append([]goopenai.ChatCompletionMessage{msg}, replies...)
}

func fromToolCalls(calls []goopenai.ToolCall) []llms.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llms.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, llms.ToolCall{
			ID:   c.ID,
			Type: string(c.Type),
			FunctionCall: &llms.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

// toolChoice accepts "auto", "none", "required" or "any", a tool name, or a
// value already in API form.
func toolChoice(choice any) any {
	s, ok := choice.(string)
	if !ok {
		return choice
	}
	switch s {
	case "auto", "none", "required":
		return s
	case "any":
		return "required"
	}
	return goopenai.ToolChoice{
		Type:     goopenai.ToolTypeFunction,
		Function: goopenai.ToolFunction{Name: s},
	}
}
