package finance

import (
	"context"
	"testing"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/llmtest"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"What is the latest news about Tesla?", PlanResearchOnly},
		{"特斯拉最近有什么新闻", PlanResearchOnly},
		{"Compare the P/E of Apple and Microsoft", PlanAnalysisOnly},
		{"分析一下茅台的财报", PlanAnalysisOnly},
		{"Market sentiment and price trend for NVDA", PlanBoth},
		{"Tell me about Nvidia", PlanAnalysisOnly},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Plan(tt.query), tt.query)
	}
}

func compile(t *testing.T, cfg Config) *graph.Runnable {
	t.Helper()
	cfg.Logger = log.NoOpLogger{}
	g, err := New(cfg)
	require.NoError(t, err)
	r, err := g.Compile(graph.WithLogger(log.NoOpLogger{}))
	require.NoError(t, err)
	return r
}

func scripted() *llmtest.Model {
	return llmtest.New().
		On("Collect the latest information", "Analysts upgraded the stock.").
		On("in-depth data analysis", "P/E is 35.").
		On("Write a professional report", "# Report\nBuy.")
}

func TestPaths(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		steps    []string
		research string
		analysis string
	}{
		{
			name:     "research only",
			query:    "latest news on Tesla",
			steps:    []string{StepRoute, StepResearch, StepSynthesize},
			research: "Analysts upgraded the stock.",
		},
		{
			name:     "analysis only",
			query:    "compare valuation of AAPL and MSFT",
			steps:    []string{StepRoute, StepAnalysis, StepSynthesize},
			analysis: "P/E is 35.",
		},
		{
			name:     "both runs research first",
			query:    "market sentiment and price of NVDA",
			steps:    []string{StepRoute, StepResearch, StepAnalysis, StepSynthesize},
			research: "Analysts upgraded the stock.",
			analysis: "P/E is 35.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := compile(t, Config{Model: scripted()})
			res, err := r.Invoke(context.Background(), "run-"+tt.name, Input(tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.steps, res.Steps)
			assert.Equal(t, tt.research, graph.GetOr(res.State, FieldResearch, ""))
			assert.Equal(t, tt.analysis, graph.GetOr(res.State, FieldAnalysis, ""))
			assert.Equal(t, "# Report\nBuy.", res.State[FieldFinalReport])

			messages := res.State[FieldMessages].([]string)
			assert.Len(t, messages, len(tt.steps))
			assert.Contains(t, messages[0], "[route] plan:")
		})
	}
}

func TestSynthesisSeesBothResults(t *testing.T) {
	model := scripted()
	r := compile(t, Config{Model: model})
	_, err := r.Invoke(context.Background(), "both", Input("analyst rating and earnings for BABA"))
	require.NoError(t, err)

	prompts := model.Prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "## Research\nAnalysts upgraded the stock.")
	assert.Contains(t, prompts[2], "## Analysis\nP/E is 35.")
}

func TestResearchUsesSearcher(t *testing.T) {
	model := scripted()
	var searched string
	r := compile(t, Config{
		Model: model,
		Searcher: tool.SearchFunc(func(_ context.Context, q string) (string, error) {
			searched = q
			return "1. Title: Tesla deliveries beat estimates", nil
		}),
	})
	_, err := r.Invoke(context.Background(), "news", Input("Tesla news"))
	require.NoError(t, err)
	assert.Equal(t, "Tesla news", searched)
	assert.Contains(t, model.Prompts()[0], "Search results:\n1. Title: Tesla deliveries beat estimates")
}

func TestRouterFallsBackToBoth(t *testing.T) {
	g, err := New(Config{Model: scripted(), Logger: log.NoOpLogger{}})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Equal(t, "", routePlan(context.Background(), graph.State{}))
	assert.Contains(t, graph.NewExporter(g).DrawMermaid(), "route -.->|both (fallback)| research")
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoModel)
}
