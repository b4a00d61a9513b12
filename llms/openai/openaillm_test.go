package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	llm, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1/"), WithModel("test-model"))
	require.NoError(t, err)
	return llm
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New()
	assert.ErrorIs(t, err, ErrNotSetAuth)

	t.Setenv("OPENAI_API_KEY", "from-env")
	llm, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, llm.model)
}

func TestGenerateContent(t *testing.T) {
	var got chatRequest
	llm := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "SEARCH: refund policy"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	})

	resp, err := llm.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You are a support agent."),
		llms.TextParts(llms.ChatMessageTypeHuman, "How do refunds work?"),
		llms.TextParts(llms.ChatMessageTypeAI, "Let me check."),
	}, llms.WithTemperature(0.5))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "SEARCH: refund policy", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].StopReason)
	assert.Equal(t, 16, resp.Choices[0].GenerationInfo["total_tokens"])

	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.5, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "How do refunds work?", got.Messages[1].Content)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestGenerateContent_Tools(t *testing.T) {
	var got map[string]any
	llm := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
			"role": "assistant",
			"tool_calls": [{"id": "call_2", "type": "function", "function": {"name": "multiply", "arguments": "{\"a\":7,\"b\":3}"}}]
		}}]}`))
	})

	add := llms.Tool{Type: "function", Function: &llms.FunctionDefinition{
		Name:        "add",
		Description: "Adds a and b.",
		Parameters:  map[string]any{"type": "object"},
	}}
	resp, err := llm.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "What is (3 + 4) * 3?"),
		{Role: llms.ChatMessageTypeAI, Parts: []llms.ContentPart{llms.ToolCall{
			ID: "call_1", Type: "function",
			FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":3,"b":4}`},
		}}},
		{Role: llms.ChatMessageTypeTool, Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: "call_1", Name: "add", Content: "7",
		}}},
	}, llms.WithTools([]llms.Tool{add}), llms.WithToolChoice("any"))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	require.Len(t, resp.Choices[0].ToolCalls, 1)
	call := resp.Choices[0].ToolCalls[0]
	assert.Equal(t, "call_2", call.ID)
	assert.Equal(t, "multiply", call.FunctionCall.Name)
	assert.JSONEq(t, `{"a":7,"b":3}`, call.FunctionCall.Arguments)

	assert.Equal(t, "required", got["tool_choice"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].(map[string]any)["function"].(map[string]any)["name"])

	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	assistant := messages[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].(map[string]any)["id"])
	reply := messages[2].(map[string]any)
	assert.Equal(t, "tool", reply["role"])
	assert.Equal(t, "call_1", reply["tool_call_id"])
	assert.Equal(t, "7", reply["content"])
}

func TestToolChoice(t *testing.T) {
	assert.Equal(t, "auto", toolChoice("auto"))
	assert.Equal(t, "required", toolChoice("any"))
	named, ok := toolChoice("sql_db_schema").(goopenai.ToolChoice)
	require.True(t, ok)
	assert.Equal(t, "sql_db_schema", named.Function.Name)
}

func TestCall_ModelOverride(t *testing.T) {
	var got chatRequest
	llm := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "yes"}, "finish_reason": "stop"}]}`))
	})

	out, err := llm.Call(context.Background(), "Is this relevant?", llms.WithModel("other-model"))
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	assert.Equal(t, "other-model", got.Model)
}

func TestDefaultCallOptions(t *testing.T) {
	var got []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	llm, err := New(WithAPIKey("k"), WithBaseURL(srv.URL+"/v1"), WithDefaultCallOptions(llms.WithTemperature(0.3)))
	require.NoError(t, err)

	_, err = llm.Call(context.Background(), "first")
	require.NoError(t, err)
	_, err = llm.Call(context.Background(), "second", llms.WithTemperature(0.9))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.InDelta(t, 0.3, got[0].Temperature, 1e-6)
	assert.InDelta(t, 0.9, got[1].Temperature, 1e-6)
}

func TestGenerateContent_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		llm := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
		})
		_, err := llm.Call(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream exploded")
	})

	t.Run("no choices", func(t *testing.T) {
		llm := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices": []}`))
		})
		_, err := llm.Call(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestCreateEmbedding(t *testing.T) {
	llm := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
			],
			"model": "text-embedding-3-small"
		}`))
	})

	emb, err := llm.CreateEmbedding(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, emb)
}
