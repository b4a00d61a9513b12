package sqlagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/agents/react"
	"github.com/tmc/langchaingo/tools"
)

// Tool names.
const (
	ToolListTables = "sql_db_list_tables"
	ToolSchema     = "sql_db_schema"
	ToolQuery      = "sql_db_query"
)

type listTablesTool struct{ db *Database }

func (listTablesTool) Name() string { return ToolListTables }
func (listTablesTool) Description() string {
	return "Input is an empty string, output is a comma-separated list of tables in the database."
}
func (listTablesTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t listTablesTool) Call(ctx context.Context, _ string) (string, error) {
	tables, err := t.db.Tables(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(tables, ", "), nil
}

type schemaTool struct{ db *Database }

func (schemaTool) Name() string { return ToolSchema }
func (schemaTool) Description() string {
	return "Input to this tool is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
		"Be sure that the tables actually exist by calling " + ToolListTables + " first!"
}
func (schemaTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table_names": map[string]any{
				"type":        "string",
				"description": "A comma-separated list of the table names for which to return the schema. Example input: 'table1, table2, table3'",
			},
		},
		"required": []string{"table_names"},
	}
}
func (t schemaTool) Call(ctx context.Context, input string) (string, error) {
	var args struct {
		TableNames string `json:"table_names"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid arguments %q: %w", input, err)
	}
	tables := splitTables(args.TableNames)
	if len(tables) == 0 {
		return "", errors.New("table_names is empty")
	}
	return t.db.Schema(ctx, tables)
}

type queryTool struct{ db *Database }

func (queryTool) Name() string { return ToolQuery }
func (queryTool) Description() string {
	return "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
		"If the query is not correct, an error message will be returned. " +
		"If an error is returned, rewrite the query, check the query, and try again."
}
func (queryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "A detailed and correct SQL query."},
		},
		"required": []string{"query"},
	}
}
func (t queryTool) Call(ctx context.Context, input string) (string, error) {
	query, err := queryArg(input)
	if err != nil {
		return "", err
	}
	return t.db.Query(ctx, query)
}

// Toolkit returns the list tables, schema and query tools over db.
func Toolkit(db *Database) []tools.Tool {
	return []tools.Tool{listTablesTool{db}, schemaTool{db}, queryTool{db}}
}

var (
	_ react.Parameterized = listTablesTool{}
	_ react.Parameterized = schemaTool{}
	_ react.Parameterized = queryTool{}
)

func queryArg(arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments %q: %w", arguments, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", errors.New("query is empty")
	}
	return args.Query, nil
}

func splitTables(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
