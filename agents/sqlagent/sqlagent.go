// Package sqlagent builds a graph that answers questions from a SQL
// database.
//
// The run lists the tables, lets the model pick the tables whose schema it
// wants to see, then loops: the model writes a query, a second model call
// double checks it, and the query runs against the database. The loop ends
// when the model answers without a query or after MaxQueries queries.
// Queries are read-only.
package sqlagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/agents/react"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// Step names.
const (
	StepListTables    = "list_tables"
	StepCallGetSchema = "call_get_schema"
	StepGetSchema     = "get_schema"
	StepGenerateQuery = "generate_query"
	StepCheckQuery    = "check_query"
	StepRunQuery      = "run_query"
)

// State field names.
const (
	FieldMessages = react.FieldMessages
	FieldTables   = "tables"
	FieldQueries  = "queries"
)

const (
	// DefaultTopK is the row limit suggested to the model.
	DefaultTopK = 5
	// DefaultMaxQueries bounds the queries of a run.
	DefaultMaxQueries = 5
	// MaxQueriesMessage is the final answer of a run that ran out of
	// queries.
	MaxQueriesMessage = "Maximum number of queries reached. Please try a simpler question."

	generateTemplate = `You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct %s query to run,
then look at the results of the query and return the answer.
Unless the user specifies a specific number of examples they wish to obtain,
always limit your query to at most %d results.

You can order the results by a relevant column to return the most interesting
examples in the database. Never query for all the columns from a specific table,
only ask for the relevant columns given the question.

DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.`

	checkTemplate = `You are a SQL expert with a strong attention to detail.
Double check the %s query for common mistakes, including:
- Using NOT IN with NULL values
- Using UNION when UNION ALL should have been used
- Using BETWEEN for exclusive ranges
- Data type mismatch in predicates
- Properly quoting identifiers
- Using the correct number of arguments for functions
- Casting to the correct data type
- Using the proper columns for joins

If there are any of the above mistakes, rewrite the query.
If there are no mistakes, just reproduce the original query.

You will call the appropriate tool to execute the query after running this check.`
)

var (
	// ErrNoModel is returned by New when Config.Model is nil.
	ErrNoModel = errors.New("sqlagent: model is required")
	// ErrNoDatabase is returned by New when Config.DB is nil.
	ErrNoDatabase = errors.New("sqlagent: database is required")
)

// Config holds the collaborators of the graph.
type Config struct {
	Model llms.Model
	DB    *Database
	// TopK is the row limit suggested to the model. Zero means DefaultTopK.
	TopK int
	// MaxQueries bounds the queries of a run. Zero means DefaultMaxQueries.
	MaxQueries int
	// Instructions are appended to the query generation prompt, for example
	// the language to answer in.
	Instructions string
	Logger       log.Logger
	Name         string
}

type agent struct {
	model      llms.Model
	db         *Database
	executor   *react.Executor
	schemaDefs []llms.Tool
	queryDefs  []llms.Tool
	generate   string
	check      string
	maxQueries int
	logger     log.Logger
}

// NewSchema declares the fields of a SQL agent run.
func NewSchema() *graph.Schema {
	return graph.NewSchema(
		graph.AppendField[react.Message](FieldMessages, graph.WithReducer(react.AddMessages)),
		graph.FieldOf[[]string](FieldTables),
		graph.FieldOf[int](FieldQueries, graph.WithDefault(0)),
	)
}

// Input returns the initial fields of a run for question.
func Input(question string) graph.State {
	return react.Input(question)
}

// Answer returns the final answer of a finished run.
func Answer(state graph.State) string {
	return react.Answer(state)
}

// New builds the graph.
func New(cfg Config) (*graph.StateGraph, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	if cfg.DB == nil {
		return nil, ErrNoDatabase
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	toolkit := Toolkit(cfg.DB)
	a := &agent{
		model:      cfg.Model,
		db:         cfg.DB,
		executor:   react.NewExecutor(toolkit),
		schemaDefs: react.Definitions(pick(toolkit, ToolSchema)),
		queryDefs:  react.Definitions(pick(toolkit, ToolQuery)),
		generate:   fmt.Sprintf(generateTemplate, cfg.DB.Dialect(), topK),
		check:      fmt.Sprintf(checkTemplate, cfg.DB.Dialect()),
		maxQueries: cfg.MaxQueries,
		logger:     cfg.Logger,
	}
	if cfg.Instructions != "" {
		a.generate += "\n\n" + cfg.Instructions
	}
	if a.maxQueries <= 0 {
		a.maxQueries = DefaultMaxQueries
	}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	name := cfg.Name
	if name == "" {
		name = "sql"
	}

	g := graph.NewStateGraph(graph.WithName(name), graph.WithSchema(NewSchema()))
	g.AddNode(StepListTables, "List the tables of the database", a.listTables,
		graph.WithWrites(FieldMessages, FieldTables))
	g.AddNode(StepCallGetSchema, "Choose the tables to inspect", a.callGetSchema,
		graph.WithReads(FieldMessages, FieldTables),
		graph.WithWrites(FieldMessages))
	g.AddNode(StepGetSchema, "Read the table schemas", a.runTools,
		graph.WithReads(FieldMessages),
		graph.WithWrites(FieldMessages))
	g.AddNode(StepGenerateQuery, "Write a query or answer", a.generateQuery,
		graph.WithReads(FieldMessages, FieldQueries),
		graph.WithWrites(FieldMessages))
	g.AddNode(StepCheckQuery, "Double check the query", a.checkQuery,
		graph.WithReads(FieldMessages),
		graph.WithWrites(FieldMessages))
	g.AddNode(StepRunQuery, "Run the query", a.runQuery,
		graph.WithReads(FieldMessages, FieldQueries),
		graph.WithWrites(FieldMessages, FieldQueries))

	g.SetEntryPoint(StepListTables)
	g.AddEdge(StepListTables, StepCallGetSchema)
	g.AddEdge(StepCallGetSchema, StepGetSchema)
	g.AddEdge(StepGetSchema, StepGenerateQuery)
	g.AddConditionalEdges(StepGenerateQuery, react.RouteToolCalls, map[string]string{
		"tools": StepCheckQuery,
		"done":  graph.END,
	})
	g.AddEdge(StepCheckQuery, StepRunQuery)
	g.AddEdge(StepRunQuery, StepGenerateQuery)
	return g, nil
}

func pick(ts []tools.Tool, name string) []tools.Tool {
	for _, t := range ts {
		if t.Name() == name {
			return []tools.Tool{t}
		}
	}
	return nil
}

func (a *agent) listTables(ctx context.Context, _ graph.State) (*graph.Command, error) {
	tables, err := a.db.Tables(ctx)
	if err != nil {
		return nil, err
	}
	listed := strings.Join(tables, ", ")
	a.logger.Info("tables: %s", listed)

	call := react.ToolCall{ID: "list_tables_001", Name: ToolListTables, Arguments: "{}"}
	return graph.Update(graph.State{
		FieldTables: tables,
		FieldMessages: []react.Message{
			{Role: react.RoleAI, ToolCalls: []react.ToolCall{call}},
			{Role: react.RoleTool, Content: listed, ToolCallID: call.ID, Name: call.Name},
			{Role: react.RoleAI, Content: "Available tables: " + listed},
		},
	}), nil
}

func (a *agent) callGetSchema(ctx context.Context, state graph.State) (*graph.Command, error) {
	resp, err := a.model.GenerateContent(ctx, react.ToLLM(messages(state)),
		llms.WithTools(a.schemaDefs), llms.WithToolChoice("any"))
	if err != nil {
		return nil, fmt.Errorf("failed to choose tables: %w", err)
	}
	msg := reply(resp)
	msg.ToolCalls = only(msg.ToolCalls, ToolSchema)
	if len(msg.ToolCalls) == 0 {
		tables := graph.GetOr[[]string](state, FieldTables, nil)
		a.logger.Warn("model chose no tables, reading the schema of all %d", len(tables))
		args, _ := json.Marshal(map[string]string{"table_names": strings.Join(tables, ", ")})
		msg.ToolCalls = []react.ToolCall{{ID: "get_schema_001", Name: ToolSchema, Arguments: string(args)}}
	}
	return graph.Update(graph.State{FieldMessages: msg}), nil
}

func (a *agent) generateQuery(ctx context.Context, state graph.State) (*graph.Command, error) {
	n := graph.GetOr(state, FieldQueries, 0)
	if n >= a.maxQueries {
		a.logger.Warn("stopping after %d queries", n)
		return graph.Update(graph.State{
			FieldMessages: react.Message{Role: react.RoleAI, Content: MaxQueriesMessage},
		}), nil
	}

	input := append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, a.generate)},
		react.ToLLM(messages(state))...)
	resp, err := a.model.GenerateContent(ctx, input, llms.WithTools(a.queryDefs))
	if err != nil {
		return nil, fmt.Errorf("failed to generate query: %w", err)
	}
	msg := reply(resp)
	msg.ToolCalls = only(msg.ToolCalls, ToolQuery)
	if len(msg.ToolCalls) > 1 {
		msg.ToolCalls = msg.ToolCalls[:1]
	}
	if len(msg.ToolCalls) > 0 {
		// check_query replaces this message by ID.
		msg.ID = fmt.Sprintf("%s_%d", StepGenerateQuery, n+1)
		a.logger.Info("generated query: %s", msg.ToolCalls[0].Arguments)
	} else {
		a.logger.Debug("model answered without a query")
	}
	return graph.Update(graph.State{FieldMessages: msg}), nil
}

func (a *agent) checkQuery(ctx context.Context, state graph.State) (*graph.Command, error) {
	history := messages(state)
	last := history[len(history)-1]
	call := last.ToolCalls[0]
	query, err := queryArg(call.Arguments)
	if err != nil {
		// run_query reports the bad arguments to the model.
		return graph.Update(graph.State{}), nil
	}

	resp, err := a.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, a.check),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	}, llms.WithTools(a.queryDefs), llms.WithToolChoice("any"))
	if err != nil {
		return nil, fmt.Errorf("failed to check query: %w", err)
	}

	checked := query
	for _, c := range only(reply(resp).ToolCalls, ToolQuery) {
		if q, err := queryArg(c.Arguments); err == nil {
			checked = q
			break
		}
	}
	if checked == query {
		a.logger.Debug("query passed the check")
		return graph.Update(graph.State{}), nil
	}

	a.logger.Info("query rewritten: %s", checked)
	args, _ := json.Marshal(map[string]string{"query": checked})
	fixed := last
	fixed.ToolCalls = []react.ToolCall{{ID: call.ID, Name: ToolQuery, Arguments: string(args)}}
	return graph.Update(graph.State{FieldMessages: fixed}), nil
}

func (a *agent) runQuery(ctx context.Context, state graph.State) (*graph.Command, error) {
	cmd, err := a.runTools(ctx, state)
	if err != nil {
		return nil, err
	}
	cmd.Update[FieldQueries] = graph.GetOr(state, FieldQueries, 0) + 1
	return cmd, nil
}

func (a *agent) runTools(ctx context.Context, state graph.State) (*graph.Command, error) {
	history := messages(state)
	if len(history) == 0 || len(history[len(history)-1].ToolCalls) == 0 {
		return nil, errors.New("sqlagent: last message has no tool calls")
	}
	calls := history[len(history)-1].ToolCalls
	replies := make([]react.Message, 0, len(calls))
	for _, c := range calls {
		r := a.executor.Execute(ctx, c)
		a.logger.Debug("%s -> %s", c.Name, r.Content)
		replies = append(replies, r)
	}
	return graph.Update(graph.State{FieldMessages: replies}), nil
}

func messages(state graph.State) []react.Message {
	return graph.GetOr[[]react.Message](state, FieldMessages, nil)
}

func reply(resp *llms.ContentResponse) react.Message {
	if resp == nil || len(resp.Choices) == 0 {
		return react.Message{Role: react.RoleAI}
	}
	return react.FromChoice(resp.Choices[0])
}

func only(calls []react.ToolCall, name string) []react.ToolCall {
	var out []react.ToolCall
	for _, c := range calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
