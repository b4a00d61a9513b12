package docqa

import (
	"context"
	"errors"
	"testing"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/llmtest"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/rag"
	"github.com/smallnest/stepgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

func corpus() *rag.KeywordRetriever {
	return rag.NewKeywordRetriever([]schema.Document{
		{PageContent: "Short-term memory is in-context learning; long-term memory uses an external vector store.", Metadata: map[string]any{"source": "agents#memory"}},
		{PageContent: "Task decomposition splits a goal into smaller subgoals with chain of thought.", Metadata: map[string]any{"source": "agents#planning"}},
		{PageContent: "Tool use lets the agent call external APIs.", Metadata: map[string]any{"source": "agents#tools"}},
	}, 2)
}

func compile(t *testing.T, cfg Config, opts ...graph.CompileOption) *graph.Runnable {
	t.Helper()
	if cfg.Retriever == nil {
		cfg.Retriever = corpus()
	}
	cfg.Logger = log.NoOpLogger{}
	g, err := New(cfg)
	require.NoError(t, err)
	r, err := g.Compile(append([]graph.CompileOption{graph.WithLogger(log.NoOpLogger{})}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Retriever: corpus()})
	assert.ErrorIs(t, err, ErrNoModel)
	_, err = New(Config{Model: llmtest.New()})
	assert.ErrorIs(t, err, ErrNoRetriever)
}

func TestDirectAnswer(t *testing.T) {
	model := llmtest.New().On("Conversation:", "1 + 1 = 2")
	r := compile(t, Config{Model: model})

	res, err := r.Invoke(context.Background(), "q1", Input("Hi, what is 1+1?"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusTerminated, res.Status)
	assert.Equal(t, []string{StepDecide}, res.Steps)
	assert.Equal(t, "1 + 1 = 2", res.State[FieldAnswer])
	assert.Equal(t, []Message{
		{Role: RoleHuman, Content: "Hi, what is 1+1?"},
		{Role: RoleAI, Content: "1 + 1 = 2"},
	}, res.State[FieldMessages])
}

func TestRetrieveGradeAnswer(t *testing.T) {
	model := llmtest.New().
		On("You grade whether", "Yes").
		On("question answering assistant", "Agents have short-term and long-term memory.").
		On("Conversation:", "SEARCH: agent memory types")
	r := compile(t, Config{Model: model})

	res, err := r.Invoke(context.Background(), "q2", Input("What kinds of memory do agents have?"))
	require.NoError(t, err)
	assert.Equal(t, []string{StepDecide, StepRetrieve, StepGrade, StepAnswer}, res.Steps)
	assert.Equal(t, "agent memory types", res.State[FieldQuery])
	assert.Equal(t, true, res.State[FieldRelevant])
	assert.Equal(t, "Agents have short-term and long-term memory.", res.State[FieldAnswer])
	assert.Contains(t, res.State[FieldContext], "Source: agents#memory")

	messages := res.State[FieldMessages].([]Message)
	require.Len(t, messages, 4)
	assert.Equal(t, RoleTool, messages[2].Role)
	assert.Equal(t, RoleAI, messages[3].Role)

	prompts := model.Prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "Question: What kinds of memory do agents have?")
	assert.Contains(t, prompts[2], "long-term memory uses an external vector store")
}

func TestRewriteLoopIsBounded(t *testing.T) {
	model := llmtest.New().
		On("You grade whether", "no").
		On("Rewrite the question", "Which memory mechanisms do LLM agents use?").
		On("question answering assistant", "I could not find this in the documents.").
		On("Conversation:", "SEARCH: memory")
	r := compile(t, Config{Model: model, MaxRewrites: 2})

	res, err := r.Invoke(context.Background(), "q3", Input("memory?"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusTerminated, res.Status)
	assert.Equal(t, []string{
		StepDecide, StepRetrieve, StepGrade, StepRewrite,
		StepDecide, StepRetrieve, StepGrade, StepRewrite,
		StepDecide, StepRetrieve, StepGrade, StepAnswer,
	}, res.Steps)
	assert.Equal(t, 2, res.State[FieldRewrites])
	assert.Equal(t, "I could not find this in the documents.", res.State[FieldAnswer])

	var humans []string
	for _, m := range res.State[FieldMessages].([]Message) {
		if m.Role == RoleHuman {
			humans = append(humans, m.Content)
		}
	}
	assert.Equal(t, []string{"memory?", "Which memory mechanisms do LLM agents use?", "Which memory mechanisms do LLM agents use?"}, humans)
}

func TestNoRewrites(t *testing.T) {
	model := llmtest.New().
		On("You grade whether", "no").
		On("question answering assistant", "Unknown.").
		On("Conversation:", "SEARCH: memory")
	r := compile(t, Config{Model: model, MaxRewrites: -1})

	res, err := r.Invoke(context.Background(), "q4", Input("memory?"))
	require.NoError(t, err)
	assert.Equal(t, []string{StepDecide, StepRetrieve, StepGrade, StepAnswer}, res.Steps)
}

func TestEmptyRetrievalIsIrrelevant(t *testing.T) {
	model := llmtest.New().
		On("question answering assistant", "Nothing found.").
		On("Conversation:", "SEARCH: quantum teleportation")
	r := compile(t, Config{Model: model, MaxRewrites: -1})

	res, err := r.Invoke(context.Background(), "q5", Input("quantum teleportation?"))
	require.NoError(t, err)
	assert.Equal(t, false, res.State[FieldRelevant])
	for _, p := range model.Prompts() {
		assert.NotContains(t, p, "You grade whether")
	}
}

func TestStepBudgetStopsLongLoops(t *testing.T) {
	model := llmtest.New().
		On("You grade whether", "no").
		On("Rewrite the question", "again").
		On("Conversation:", "SEARCH: memory")
	r := compile(t, Config{Model: model, MaxRewrites: 10}, graph.WithMaxSteps(6))

	res, err := r.Invoke(context.Background(), "q6", Input("memory?"))
	assert.ErrorIs(t, err, graph.ErrStepBudgetExceeded)
	assert.Equal(t, store.StatusTerminated, res.Status)
}

func TestRetrieverError(t *testing.T) {
	model := llmtest.New().On("Conversation:", "SEARCH: memory")
	r := compile(t, Config{Model: model, Retriever: failingRetriever{}})

	_, err := r.Invoke(context.Background(), "q7", Input("memory?"))
	var se *graph.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepRetrieve, se.Step)
}

type failingRetriever struct{}

func (failingRetriever) GetRelevantDocuments(context.Context, string) ([]schema.Document, error) {
	return nil, errors.New("index unavailable")
}

func TestParseSearch(t *testing.T) {
	tests := []struct {
		in    string
		query string
		ok    bool
	}{
		{"SEARCH: agent memory", "agent memory", true},
		{"  search:   planning  \nextra text", "planning", true},
		{"SEARCH:", "", false},
		{"The answer is 2.", "", false},
		{"SEAR", "", false},
	}
	for _, tt := range tests {
		query, ok := ParseSearch(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.query, query, tt.in)
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"yes", true},
		{"Yes.", true},
		{"  YES, the documents mention memory", true},
		{"no", false},
		{"No, yes would be wrong here", false},
		{"Eyes are not mentioned", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseGrade(tt.in), tt.in)
	}
}
