package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ State) (*Command, error) { return nil, nil }

func constRouter(label string) RouterFunc {
	return func(context.Context, State) string { return label }
}

func compileProblems(t *testing.T, g *StateGraph) []string {
	t.Helper()
	_, err := g.Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGraph)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	return cfgErr.Problems
}

func assertProblem(t *testing.T, problems []string, fragment string) {
	t.Helper()
	for _, p := range problems {
		if strings.Contains(p, fragment) {
			return
		}
	}
	t.Errorf("no problem containing %q in %v", fragment, problems)
}

func TestCompile_Valid(t *testing.T) {
	g := NewStateGraph(WithName("valid"))
	g.AddNode("a", "first", noop)
	g.AddNode("b", "second", noop)
	g.AddNode("c", "third", noop, WithDestinations("a", END))
	g.AddEdge("a", "b")
	g.AddConditionalEdges("b", constRouter("x"), map[string]string{"x": "c", "y": END}, WithFallback("y"))
	g.SetEntryPoint("a")

	r, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, "valid", r.Name())
	assert.Same(t, g, r.Graph())
	assert.NotNil(t, r.Store())
}

func TestCompile_CyclesAreLegal(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("check", "", noop)
	g.AddNode("act", "", noop)
	g.AddConditionalEdges("check", constRouter("again"), map[string]string{"again": "act", "done": END})
	g.AddEdge("act", "check")
	g.SetEntryPoint("check")

	_, err := g.Compile()
	assert.NoError(t, err)
}

func TestCompile_Problems(t *testing.T) {
	tests := []struct {
		name     string
		build    func(g *StateGraph)
		fragment string
	}{
		{
			name: "entry point not set",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddEdge("a", END)
			},
			fragment: "entry point not set",
		},
		{
			name: "unknown entry point",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddEdge("a", END)
				g.SetEntryPoint("zzz")
			},
			fragment: "entry point zzz is not a node",
		},
		{
			name: "edge to unknown node",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddEdge("a", "ghost")
				g.SetEntryPoint("a")
			},
			fragment: "unknown node ghost",
		},
		{
			name: "two fixed edges",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddNode("b", "", noop)
				g.AddEdge("a", "b")
				g.AddEdge("a", END)
				g.AddEdge("b", END)
				g.SetEntryPoint("a")
			},
			fragment: "node a has more than one outgoing edge",
		},
		{
			name: "edge and router",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddEdge("a", END)
				g.AddConditionalEdges("a", constRouter("x"), map[string]string{"x": END})
				g.SetEntryPoint("a")
			},
			fragment: "both an edge and a router",
		},
		{
			name: "empty path map",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddConditionalEdges("a", constRouter("x"), map[string]string{})
				g.SetEntryPoint("a")
			},
			fragment: "empty path map",
		},
		{
			name: "path map to unknown node",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddConditionalEdges("a", constRouter("x"), map[string]string{"x": "nowhere"})
				g.SetEntryPoint("a")
			},
			fragment: `maps "x" to unknown node nowhere`,
		},
		{
			name: "fallback not a label",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddConditionalEdges("a", constRouter("x"), map[string]string{"x": END}, WithFallback("other"))
				g.SetEntryPoint("a")
			},
			fragment: `fallback "other"`,
		},
		{
			name: "duplicate node",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.AddNode("a", "", noop)
				g.AddEdge("a", END)
				g.SetEntryPoint("a")
			},
			fragment: "duplicate node a",
		},
		{
			name: "reserved name",
			build: func(g *StateGraph) {
				g.AddNode(END, "", noop)
				g.AddNode("a", "", noop)
				g.AddEdge("a", END)
				g.SetEntryPoint("a")
			},
			fragment: "reserved",
		},
		{
			name: "no outgoing rule",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop)
				g.SetEntryPoint("a")
			},
			fragment: "node a has no outgoing edge",
		},
		{
			name: "unknown destination",
			build: func(g *StateGraph) {
				g.AddNode("a", "", noop, WithDestinations("b"))
				g.SetEntryPoint("a")
			},
			fragment: "unknown destination b",
		},
		{
			name: "writes undeclared field",
			build: func(g *StateGraph) {
				g.SetSchema(NewSchema(FieldOf[string]("x")))
				g.AddNode("a", "", noop, WithWrites("y"))
				g.AddEdge("a", END)
				g.SetEntryPoint("a")
			},
			fragment: "writes undeclared field y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewStateGraph()
			tt.build(g)
			assertProblem(t, compileProblems(t, g), tt.fragment)
		})
	}
}

func TestCompile_CollectsAllProblems(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", "", noop)
	g.AddNode("b", "", noop)
	g.AddEdge("a", "ghost")

	problems := compileProblems(t, g)
	assertProblem(t, problems, "entry point not set")
	assertProblem(t, problems, "unknown node ghost")
	assertProblem(t, problems, "node b has no outgoing edge")
}
