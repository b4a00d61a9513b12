package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/smallnest/stepgraph/agents/sqlagent"
	"github.com/smallnest/stepgraph/config"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/llmtest"
	"github.com/smallnest/stepgraph/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stepgraph.yaml")
	cfg := "log: {level: none}\nstore: {driver: file, path: " + filepath.Join(dir, "runs") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, model llms.Model, cfgPath string, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	a.newModel = func(config.LLMConfig) (llms.Model, error) { return model, nil }
	a.newSearcher = func(config.SearchConfig) (tool.Searcher, error) { return nil, nil }

	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func billingModel() *llmtest.Model {
	return llmtest.New().
		On("Write a reply", "We will refund the duplicate charge.").
		On("Classify", `{"intent":"billing","urgency":"critical","topic":"refund","summary":"charged twice"}`)
}

func TestEmailReviewFlow(t *testing.T) {
	cfg := writeConfig(t)
	model := billingModel()

	out, err := execute(t, model, cfg, "email", "start", "--id", "email_002", "--from", "bob@example.com", "--body", "I was charged twice!", "--watch")
	require.NoError(t, err)
	assert.Contains(t, out, "run email_002")
	assert.Contains(t, out, "suspended")
	assert.Contains(t, out, "waiting at: human_review")
	assert.Contains(t, out, "✓ classify_intent")

	out, err = execute(t, model, cfg, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "email_002")
	assert.Contains(t, out, "human_review")

	_, err = execute(t, model, cfg, "email", "resume", "email_002")
	assert.ErrorContains(t, err, "exactly one of --approve or --reject")

	out, err = execute(t, model, cfg, "email", "resume", "email_002", "--approve", "--edit", "Refund issued today.")
	require.NoError(t, err)
	assert.Contains(t, out, "terminated")
	assert.Contains(t, out, "human_review → send_reply")

	out, err = execute(t, model, cfg, "runs", "show", "email_002")
	require.NoError(t, err)
	assert.Contains(t, out, "Refund issued today.")
	assert.Contains(t, out, "current step: END")

	_, err = execute(t, model, cfg, "email", "resume", "email_002", "--approve")
	assert.ErrorIs(t, err, graph.ErrInvalidState)
}

func TestEmailStartNeedsBody(t *testing.T) {
	_, err := execute(t, billingModel(), writeConfig(t), "email", "start", "--from", "a@example.com")
	assert.ErrorContains(t, err, "--body or --file")
}

func TestRunsCancelAndRemove(t *testing.T) {
	cfg := writeConfig(t)
	model := billingModel()

	_, err := execute(t, model, cfg, "email", "start", "--id", "email_007", "--from", "x@example.com", "--body", "Charged twice")
	require.NoError(t, err)

	out, err := execute(t, model, cfg, "runs", "cancel", "email_007")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled run email_007")

	out, err = execute(t, model, cfg, "runs", "show", "email_007")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled: true")

	_, err = execute(t, model, cfg, "runs", "cancel", "email_007")
	assert.ErrorIs(t, err, graph.ErrInvalidState)

	out, err = execute(t, model, cfg, "runs", "rm", "email_007")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed run email_007")

	out, err = execute(t, model, cfg, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestGraphExport(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, nil, cfg, "graph", "mermaid", "email")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart TD")
	assert.Contains(t, out, "draft_response -.-> human_review")

	out, err = execute(t, nil, cfg, "graph", "mermaid", "--direction", "LR", "docqa")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart LR")

	out, err = execute(t, nil, cfg, "graph", "dot", "finance")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph G {")

	_, err = execute(t, nil, cfg, "graph", "mermaid", "payroll")
	assert.ErrorContains(t, err, `unknown graph "payroll"`)
}

func TestDocQAFromFile(t *testing.T) {
	cfg := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "agents.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Agents use short-term memory and long-term memory backed by a vector store."), 0o600))

	model := llmtest.New().
		On("You grade whether", "yes").
		On("question answering assistant", "Short-term and long-term memory.").
		On("Conversation:", "SEARCH: agent memory")

	out, err := execute(t, model, cfg, "docqa", "--file", doc, "What", "memory", "do", "agents", "have?")
	require.NoError(t, err)
	assert.Contains(t, out, "answer: Short-term and long-term memory.")

	_, err = execute(t, model, cfg, "docqa", "question")
	assert.ErrorContains(t, err, "at least one --url or --file")
}

func TestFinanceWritesMetrics(t *testing.T) {
	cfg := writeConfig(t)
	metricsFile := filepath.Join(t.TempDir(), "stepgraph.prom")
	model := llmtest.New().
		On("in-depth data analysis", "P/E is 30.").
		On("Write a professional report", "Fairly valued.")

	out, err := execute(t, model, cfg, "--metrics-file", metricsFile, "finance", "Compare the valuation of AAPL and MSFT")
	require.NoError(t, err)
	assert.Contains(t, out, "plan: analysis_only")
	assert.Contains(t, out, "final_report: Fairly valued.")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stepgraph_steps_total{graph="finance",step="analysis"} 1`)
}

func TestCalc(t *testing.T) {
	cfg := writeConfig(t)
	model := llmtest.New().
		On("tool multiply: 21", "21").
		OnToolCall("tool add: 7", llmtest.Call("c2", "multiply", `{"a":7,"b":3}`)).
		OnToolCall("(3 + 4) * 3", llmtest.Call("c1", "add", `{"a":3,"b":4}`))

	out, err := execute(t, model, cfg, "calc", "What is (3 + 4) * 3?")
	require.NoError(t, err)
	assert.Contains(t, out, "llm_call → tool_node → llm_call → tool_node → llm_call")
	assert.Contains(t, out, "iterations: 3")
	assert.Contains(t, out, "answer: 21")
}

func TestSQL(t *testing.T) {
	cfg := writeConfig(t)
	dbPath := filepath.Join(t.TempDir(), "shop.db")
	db, err := sqlagent.OpenSQLite(dbPath)
	require.NoError(t, err)
	_, err = db.DB().Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT); INSERT INTO customers VALUES (1, 'Ada'), (2, 'Linus');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	model := llmtest.New().
		On("tool sql_db_query: n", "There are 2 customers.").
		OnToolCall("Double check", llmtest.Call("c", "sql_db_query", `{"query":"SELECT COUNT(*) AS n FROM customers"}`)).
		OnToolCall("designed to interact", llmtest.Call("q", "sql_db_query", `{"query":"SELECT COUNT(*) AS n FROM customers"}`)).
		OnToolCall("Available tables:", llmtest.Call("s", "sql_db_schema", `{"table_names":"customers"}`))

	out, err := execute(t, model, cfg, "sql", "--db", dbPath, "How many customers are there?")
	require.NoError(t, err)
	assert.Contains(t, out, "queries: 1")
	assert.Contains(t, out, "answer: There are 2 customers.")

	_, err = execute(t, model, cfg, "sql", "How many customers?")
	assert.ErrorContains(t, err, "--db is required")

	out, err = execute(t, nil, cfg, "graph", "mermaid", "sql")
	require.NoError(t, err)
	assert.Contains(t, out, "run_query --> generate_query")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: {driver: mongo}"), 0o600))
	_, err := execute(t, nil, path, "runs", "list")
	assert.ErrorContains(t, err, "unknown store driver")
}
