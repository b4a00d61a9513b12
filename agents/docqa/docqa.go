// Package docqa builds an agentic retrieval graph that answers questions
// from a document collection.
//
// The model first decides whether a question needs the documents at all.
// Retrieved documents are graded; when they are irrelevant the question is
// rewritten and the search repeated, at most MaxRewrites times.
package docqa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/rag"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Step names.
const (
	StepDecide   = "generate_query_or_respond"
	StepRetrieve = "retrieve"
	StepGrade    = "grade_documents"
	StepRewrite  = "rewrite_question"
	StepAnswer   = "generate_answer"
)

// State field names.
const (
	FieldQuestion = "question"
	FieldQuery    = "query"
	FieldMessages = "messages"
	FieldContext  = "context"
	FieldRelevant = "relevant"
	FieldRewrites = "rewrites"
	FieldAnswer   = "answer"
)

// Message roles.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
	RoleTool  = "tool"
)

// DefaultMaxRewrites bounds the rewrite loop when Config.MaxRewrites is zero.
const DefaultMaxRewrites = 2

const (
	searchPrefix   = "SEARCH:"
	maxGradeInput  = 2000
	defaultName    = "docqa"
	decideTemplate = "You answer questions about a collection of technical blog posts about AI agents.\n" +
		"If the question concerns agents, LLMs, planning, memory, tool use or other technical topics, " +
		"reply with one line of the form \"SEARCH: <query>\" where <query> is an English search query.\n" +
		"If the question is small talk or simple arithmetic, answer it directly.\n\n" +
		"Conversation:\n%s"
	gradeTemplate = "You grade whether retrieved documents are relevant to a question.\n" +
		"Answer yes if the documents contain keywords or meaning related to the question, otherwise no.\n" +
		"Answer only yes or no.\n\nQuestion: %s\n\nDocuments: %s"
	rewriteTemplate = "Rewrite the question below so it works better for a semantic search. " +
		"Output only the rewritten question.\n\nQuestion: %s"
	answerTemplate = "You are a question answering assistant. Answer the question using the retrieved documents. " +
		"Be concise and accurate.\n\nQuestion: %s\n\nDocuments:\n%s"
)

var (
	// ErrNoModel is returned by New when Config.Model is nil.
	ErrNoModel = errors.New("docqa: model is required")
	// ErrNoRetriever is returned by New when Config.Retriever is nil.
	ErrNoRetriever = errors.New("docqa: retriever is required")
)

// Message is one entry of the run's conversation log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds the collaborators of the graph.
type Config struct {
	Model     llms.Model
	Retriever schema.Retriever
	// MaxRewrites is how often an irrelevant search may be retried with a
	// rewritten question. Zero means DefaultMaxRewrites, negative means never.
	MaxRewrites int
	Logger      log.Logger
	Name        string
}

type agent struct {
	model       llms.Model
	retriever   schema.Retriever
	maxRewrites int
	logger      log.Logger
}

// NewSchema declares the fields of a docqa run. Messages are append-only.
func NewSchema() *graph.Schema {
	return graph.NewSchema(
		graph.FieldOf[string](FieldQuestion),
		graph.FieldOf[string](FieldQuery),
		graph.AppendField[Message](FieldMessages),
		graph.FieldOf[string](FieldContext),
		graph.FieldOf[bool](FieldRelevant),
		graph.FieldOf[int](FieldRewrites, graph.WithDefault(0)),
		graph.FieldOf[string](FieldAnswer),
	)
}

// Input returns the initial fields of a run for question.
func Input(question string) graph.State {
	return graph.State{
		FieldQuestion: question,
		FieldMessages: []Message{{Role: RoleHuman, Content: question}},
	}
}

// New builds the graph.
func New(cfg Config) (*graph.StateGraph, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	if cfg.Retriever == nil {
		return nil, ErrNoRetriever
	}
	a := &agent{model: cfg.Model, retriever: cfg.Retriever, maxRewrites: cfg.MaxRewrites, logger: cfg.Logger}
	switch {
	case a.maxRewrites == 0:
		a.maxRewrites = DefaultMaxRewrites
	case a.maxRewrites < 0:
		a.maxRewrites = 0
	}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	g := graph.NewStateGraph(graph.WithName(name), graph.WithSchema(NewSchema()))
	g.AddNode(StepDecide, "Search the documents or answer directly", a.decide,
		graph.WithWrites(FieldQuery, FieldAnswer, FieldMessages))
	g.AddNode(StepRetrieve, "Retrieve documents", a.retrieve,
		graph.WithReads(FieldQuery),
		graph.WithWrites(FieldContext, FieldMessages))
	g.AddNode(StepGrade, "Grade document relevance", a.grade,
		graph.WithReads(FieldQuestion, FieldContext),
		graph.WithWrites(FieldRelevant))
	g.AddNode(StepRewrite, "Rewrite the question", a.rewrite,
		graph.WithWrites(FieldMessages, FieldRewrites))
	g.AddNode(StepAnswer, "Answer from the documents", a.answer,
		graph.WithReads(FieldQuestion, FieldContext),
		graph.WithWrites(FieldAnswer, FieldMessages))

	g.SetEntryPoint(StepDecide)
	g.AddConditionalEdges(StepDecide, routeDecision, map[string]string{
		"retrieve": StepRetrieve,
		"respond":  graph.END,
	})
	g.AddEdge(StepRetrieve, StepGrade)
	g.AddConditionalEdges(StepGrade, a.routeGrade, map[string]string{
		"answer":  StepAnswer,
		"rewrite": StepRewrite,
	})
	g.AddEdge(StepRewrite, StepDecide)
	g.AddEdge(StepAnswer, graph.END)
	return g, nil
}

func (a *agent) decide(ctx context.Context, state graph.State) (*graph.Command, error) {
	messages := graph.GetOr[[]Message](state, FieldMessages, nil)
	reply, err := llms.GenerateFromSinglePrompt(ctx, a.model, fmt.Sprintf(decideTemplate, transcript(messages)), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to decide: %w", err)
	}
	reply = strings.TrimSpace(reply)

	if query, ok := ParseSearch(reply); ok {
		a.logger.Debug("searching documents for %q", query)
		return graph.Update(graph.State{
			FieldQuery:    query,
			FieldAnswer:   "",
			FieldMessages: Message{Role: RoleAI, Content: reply},
		}), nil
	}
	a.logger.Debug("answering without documents")
	return graph.Update(graph.State{
		FieldQuery:    "",
		FieldAnswer:   reply,
		FieldMessages: Message{Role: RoleAI, Content: reply},
	}), nil
}

// ParseSearch extracts the query of a "SEARCH: <query>" decision.
func ParseSearch(reply string) (string, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	if len(line) < len(searchPrefix) || !strings.EqualFold(line[:len(searchPrefix)], searchPrefix) {
		return "", false
	}
	query := strings.TrimSpace(line[len(searchPrefix):])
	return query, query != ""
}

func routeDecision(_ context.Context, state graph.State) string {
	if graph.GetOr(state, FieldAnswer, "") == "" && graph.GetOr(state, FieldQuery, "") != "" {
		return "retrieve"
	}
	return "respond"
}

func (a *agent) retrieve(ctx context.Context, state graph.State) (*graph.Command, error) {
	query := graph.GetOr(state, FieldQuery, "")
	docs, err := a.retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}
	a.logger.Debug("retrieved %d documents for %q", len(docs), query)
	content := rag.Format(docs)
	return graph.Update(graph.State{
		FieldContext:  content,
		FieldMessages: Message{Role: RoleTool, Content: content},
	}), nil
}

func (a *agent) grade(ctx context.Context, state graph.State) (*graph.Command, error) {
	content := graph.GetOr(state, FieldContext, "")
	if strings.TrimSpace(content) == "" {
		return graph.Update(graph.State{FieldRelevant: false}), nil
	}
	if r := []rune(content); len(r) > maxGradeInput {
		content = string(r[:maxGradeInput])
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, a.model,
		fmt.Sprintf(gradeTemplate, graph.GetOr(state, FieldQuestion, ""), content), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to grade documents: %w", err)
	}
	relevant := ParseGrade(reply)
	a.logger.Debug("documents relevant: %v", relevant)
	return graph.Update(graph.State{FieldRelevant: relevant}), nil
}

// ParseGrade reports whether a grader reply starts with the word yes.
func ParseGrade(reply string) bool {
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return len(words) > 0 && words[0] == "yes"
}

func (a *agent) routeGrade(_ context.Context, state graph.State) string {
	if graph.GetOr(state, FieldRelevant, false) {
		return "answer"
	}
	if graph.GetOr(state, FieldRewrites, 0) >= a.maxRewrites {
		a.logger.Info("no relevant documents after %d rewrites, answering anyway", a.maxRewrites)
		return "answer"
	}
	return "rewrite"
}

func (a *agent) rewrite(ctx context.Context, state graph.State) (*graph.Command, error) {
	question := lastHuman(graph.GetOr[[]Message](state, FieldMessages, nil))
	if question == "" {
		question = graph.GetOr(state, FieldQuestion, "")
	}
	rewritten, err := llms.GenerateFromSinglePrompt(ctx, a.model, fmt.Sprintf(rewriteTemplate, question))
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite question: %w", err)
	}
	return graph.Update(graph.State{
		FieldMessages: Message{Role: RoleHuman, Content: strings.TrimSpace(rewritten)},
		FieldRewrites: graph.GetOr(state, FieldRewrites, 0) + 1,
	}), nil
}

func (a *agent) answer(ctx context.Context, state graph.State) (*graph.Command, error) {
	reply, err := llms.GenerateFromSinglePrompt(ctx, a.model,
		fmt.Sprintf(answerTemplate, graph.GetOr(state, FieldQuestion, ""), graph.GetOr(state, FieldContext, "")))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	reply = strings.TrimSpace(reply)
	return graph.Update(graph.State{
		FieldAnswer:   reply,
		FieldMessages: Message{Role: RoleAI, Content: reply},
	}), nil
}

func transcript(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

func lastHuman(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleHuman {
			return messages[i].Content
		}
	}
	return ""
}
