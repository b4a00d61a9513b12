package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func triageGraph() *StateGraph {
	g := NewStateGraph()
	g.AddNode("classify", "", noop)
	g.AddNode("search", "", noop)
	g.AddNode("review", "", noop, WithDestinations("search", END))
	g.AddConditionalEdges("classify", constRouter("question"),
		map[string]string{"question": "search", "other": "review"}, WithFallback("other"))
	g.AddEdge("search", "review")
	g.SetEntryPoint("classify")
	return g
}

func TestDrawMermaid(t *testing.T) {
	out := NewExporter(triageGraph()).DrawMermaid()

	assert.Contains(t, out, "flowchart TD")
	assert.Contains(t, out, "START --> classify")
	assert.Contains(t, out, `classify[["classify"]]`)
	assert.Contains(t, out, `search["search"]`)
	assert.Contains(t, out, "classify -.->|question| search")
	assert.Contains(t, out, "classify -.->|other (fallback)| review")
	assert.Contains(t, out, "search --> review")
	assert.Contains(t, out, "review -.-> END")
	assert.Contains(t, out, `END(["END"])`)
}

func TestDrawMermaidWithOptions(t *testing.T) {
	out := NewExporter(triageGraph()).DrawMermaidWithOptions(MermaidOptions{Direction: "LR"})
	assert.Contains(t, out, "flowchart LR")
}

func TestDrawDOT(t *testing.T) {
	out := NewExporter(triageGraph()).DrawDOT()

	assert.Contains(t, out, "digraph G {")
	assert.Contains(t, out, "START -> classify;")
	assert.Contains(t, out, `classify -> search [style=dashed, label="question"];`)
	assert.Contains(t, out, "search -> review;")
	assert.Contains(t, out, "review -> END [style=dotted];")
}

func TestDrawMermaid_NoEnd(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", "", noop)
	g.AddEdge("a", "a")
	g.SetEntryPoint("a")

	assert.NotContains(t, NewExporter(g).DrawMermaid(), `END(["END"])`)
}
