// Package finance builds a small multi-agent graph for stock questions.
//
// A keyword router sends a query to a research agent (news, ratings,
// sentiment), an analysis agent (financials, valuation, prices) or both, one
// after the other. A final step writes a report from whatever was gathered.
package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/tool"
	"github.com/tmc/langchaingo/llms"
)

// Step names.
const (
	StepRoute      = "route"
	StepResearch   = "research"
	StepAnalysis   = "analysis"
	StepSynthesize = "synthesize"
)

// Plans chosen by the router.
const (
	PlanResearchOnly = "research_only"
	PlanAnalysisOnly = "analysis_only"
	PlanBoth         = "both"
)

// State field names.
const (
	FieldQuery       = "query"
	FieldPlan        = "plan"
	FieldMessages    = "messages"
	FieldResearch    = "research_result"
	FieldAnalysis    = "analysis_result"
	FieldFinalReport = "final_report"
)

// ErrNoModel is returned by New when Config.Model is nil.
var ErrNoModel = errors.New("finance: model is required")

var (
	researchKeywords = []string{
		"新闻", "消息", "动态", "报道", "评级", "分析师", "市场", "情绪", "舆情",
		"news", "headline", "rating", "analyst", "market", "sentiment",
	}
	analysisKeywords = []string{
		"财报", "财务", "估值", "市盈率", "市值", "对比", "比较", "分析", "指标", "数据", "股价", "价格", "涨跌",
		"earnings", "financial", "valuation", "p/e", "compare", "analysis", "analyze", "metric", "data", "price", "revenue",
	}
)

// Config holds the collaborators of the graph.
type Config struct {
	Model llms.Model
	// Searcher, when set, feeds web results to the research agent.
	Searcher tool.Searcher
	Logger   log.Logger
	Name     string
}

type agent struct {
	model    llms.Model
	searcher tool.Searcher
	logger   log.Logger
}

// NewSchema declares the fields of a finance run.
func NewSchema() *graph.Schema {
	return graph.NewSchema(
		graph.FieldOf[string](FieldQuery),
		graph.FieldOf[string](FieldPlan),
		graph.AppendField[string](FieldMessages),
		graph.FieldOf[string](FieldResearch),
		graph.FieldOf[string](FieldAnalysis),
		graph.FieldOf[string](FieldFinalReport),
	)
}

// Input returns the initial fields of a run for query.
func Input(query string) graph.State {
	return graph.State{FieldQuery: query}
}

// Plan picks the agents a query needs. Queries that match neither keyword
// list are analysed.
func Plan(query string) string {
	q := strings.ToLower(query)
	research := containsAny(q, researchKeywords)
	analysis := containsAny(q, analysisKeywords) || !research
	switch {
	case research && analysis:
		return PlanBoth
	case research:
		return PlanResearchOnly
	default:
		return PlanAnalysisOnly
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// New builds the graph.
func New(cfg Config) (*graph.StateGraph, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	a := &agent{model: cfg.Model, searcher: cfg.Searcher, logger: cfg.Logger}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	name := cfg.Name
	if name == "" {
		name = "finance"
	}

	g := graph.NewStateGraph(graph.WithName(name), graph.WithSchema(NewSchema()))
	g.AddNode(StepRoute, "Choose the agents for the query", a.route,
		graph.WithReads(FieldQuery),
		graph.WithWrites(FieldPlan, FieldMessages))
	g.AddNode(StepResearch, "Collect news and market sentiment", a.research,
		graph.WithWrites(FieldResearch, FieldMessages))
	g.AddNode(StepAnalysis, "Analyse financial data", a.analysis,
		graph.WithWrites(FieldAnalysis, FieldMessages))
	g.AddNode(StepSynthesize, "Write the final report", a.synthesize,
		graph.WithWrites(FieldFinalReport, FieldMessages))

	g.SetEntryPoint(StepRoute)
	g.AddConditionalEdges(StepRoute, routePlan, map[string]string{
		PlanResearchOnly: StepResearch,
		PlanAnalysisOnly: StepAnalysis,
		PlanBoth:         StepResearch,
	}, graph.WithFallback(PlanBoth))
	g.AddConditionalEdges(StepResearch, afterResearch, map[string]string{
		"to_analysis":   StepAnalysis,
		"to_synthesize": StepSynthesize,
	})
	g.AddEdge(StepAnalysis, StepSynthesize)
	g.AddEdge(StepSynthesize, graph.END)
	return g, nil
}

func routePlan(_ context.Context, state graph.State) string {
	return graph.GetOr(state, FieldPlan, "")
}

func afterResearch(_ context.Context, state graph.State) string {
	if graph.GetOr(state, FieldPlan, "") == PlanBoth {
		return "to_analysis"
	}
	return "to_synthesize"
}

func (a *agent) route(_ context.Context, state graph.State) (*graph.Command, error) {
	plan := Plan(graph.GetOr(state, FieldQuery, ""))
	a.logger.Info("routing plan: %s", plan)
	return graph.Update(graph.State{
		FieldPlan:     plan,
		FieldMessages: "[route] plan: " + plan,
	}), nil
}

func (a *agent) research(ctx context.Context, state graph.State) (*graph.Command, error) {
	query := graph.GetOr(state, FieldQuery, "")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Collect the latest information about:\n%s\n\n", query)
	sb.WriteString("Focus on recent news coverage, analyst ratings and price targets, market sentiment and industry trends. Cite your sources.\n")
	if a.searcher != nil {
		results, err := a.searcher.Search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to search news: %w", err)
		}
		fmt.Fprintf(&sb, "\nSearch results:\n%s\n", results)
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, sb.String())
	if err != nil {
		return nil, fmt.Errorf("research agent failed: %w", err)
	}
	out = strings.TrimSpace(out)
	return graph.Update(graph.State{
		FieldResearch: out,
		FieldMessages: "[research]\n" + out,
	}), nil
}

func (a *agent) analysis(ctx context.Context, state graph.State) (*graph.Command, error) {
	prompt := fmt.Sprintf("Give an in-depth data analysis of:\n%s\n\n"+
		"Cover core financial metrics and valuation, profitability and growth, financial health and risks, "+
		"and a side-by-side comparison when several stocks are involved. Support it with numbers.",
		graph.GetOr(state, FieldQuery, ""))

	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("analysis agent failed: %w", err)
	}
	out = strings.TrimSpace(out)
	return graph.Update(graph.State{
		FieldAnalysis: out,
		FieldMessages: "[analysis]\n" + out,
	}), nil
}

func (a *agent) synthesize(ctx context.Context, state graph.State) (*graph.Command, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\n", graph.GetOr(state, FieldQuery, ""))
	if r := graph.GetOr(state, FieldResearch, ""); r != "" {
		fmt.Fprintf(&sb, "## Research\n%s\n\n", r)
	}
	if r := graph.GetOr(state, FieldAnalysis, ""); r != "" {
		fmt.Fprintf(&sb, "## Analysis\n%s\n\n", r)
	}
	sb.WriteString("Write a professional report from the material above. Use headings, cite figures and sources, " +
		"give an overall assessment and list the key risks.")

	report, err := llms.GenerateFromSinglePrompt(ctx, a.model, sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	report = strings.TrimSpace(report)
	return graph.Update(graph.State{
		FieldFinalReport: report,
		FieldMessages:    report,
	}), nil
}
