package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Exporter renders a graph as a diagram.
type Exporter struct {
	graph *StateGraph
}

// NewExporter creates a new graph exporter for the given graph
func NewExporter(graph *StateGraph) *Exporter {
	return &Exporter{graph: graph}
}

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string
}

// transition is one arrow of the diagram.
type transition struct {
	from, to, label string
	kind            int
}

const (
	fixedTransition = iota
	routedTransition
	gotoTransition
)

// transitions lists every arrow in a stable order: fixed edges as added,
// then routers and Goto destinations by source node.
func (ge *Exporter) transitions() []transition {
	g := ge.graph
	var out []transition
	for _, e := range g.edges {
		out = append(out, transition{from: e.From, to: e.To, kind: fixedTransition})
	}
	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		ce := g.conditionalEdges[from]
		for _, label := range slices.Sorted(maps.Keys(ce.PathMap)) {
			shown := label
			if label == ce.Fallback {
				shown += " (fallback)"
			}
			out = append(out, transition{from: from, to: ce.PathMap[label], label: shown, kind: routedTransition})
		}
	}
	for _, node := range g.Nodes() {
		for _, d := range node.Destinations {
			out = append(out, transition{from: node.Name, to: d, kind: gotoTransition})
		}
	}
	return out
}

func (ge *Exporter) usesEnd() bool {
	for _, t := range ge.transitions() {
		if t.to == END {
			return true
		}
	}
	return false
}

// DrawMermaid generates a Mermaid diagram representation of the graph
func (ge *Exporter) DrawMermaid() string {
	return ge.DrawMermaidWithOptions(MermaidOptions{Direction: "TD"})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options
func (ge *Exporter) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder
	g := ge.graph

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	fmt.Fprintf(&sb, "flowchart %s\n", direction)

	if g.entryPoint != "" {
		sb.WriteString("    START([\"START\"])\n")
		sb.WriteString("    style START fill:#90EE90\n")
	}
	for _, node := range g.Nodes() {
		if node.Name == g.entryPoint {
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", node.Name, node.Name)
		} else {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", node.Name, node.Name)
		}
	}
	if ge.usesEnd() {
		sb.WriteString("    END([\"END\"])\n")
		sb.WriteString("    style END fill:#FFB6C1\n")
	}

	if g.entryPoint != "" {
		fmt.Fprintf(&sb, "    START --> %s\n", g.entryPoint)
	}
	for _, t := range ge.transitions() {
		switch t.kind {
		case routedTransition:
			fmt.Fprintf(&sb, "    %s -.->|%s| %s\n", t.from, t.label, t.to)
		case gotoTransition:
			fmt.Fprintf(&sb, "    %s -.-> %s\n", t.from, t.to)
		default:
			fmt.Fprintf(&sb, "    %s --> %s\n", t.from, t.to)
		}
	}

	if g.entryPoint != "" {
		fmt.Fprintf(&sb, "    style %s fill:#87CEEB\n", g.entryPoint)
	}
	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph
func (ge *Exporter) DrawDOT() string {
	var sb strings.Builder
	g := ge.graph

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")

	if g.entryPoint != "" {
		sb.WriteString("    START [label=\"START\", shape=ellipse, style=filled, fillcolor=lightgreen];\n")
		fmt.Fprintf(&sb, "    %s [style=filled, fillcolor=lightblue];\n", g.entryPoint)
		fmt.Fprintf(&sb, "    START -> %s;\n", g.entryPoint)
	}
	if ge.usesEnd() {
		sb.WriteString("    END [label=\"END\", shape=ellipse, style=filled, fillcolor=lightpink];\n")
	}

	for _, t := range ge.transitions() {
		switch t.kind {
		case routedTransition:
			fmt.Fprintf(&sb, "    %s -> %s [style=dashed, label=%q];\n", t.from, t.to, t.label)
		case gotoTransition:
			fmt.Fprintf(&sb, "    %s -> %s [style=dotted];\n", t.from, t.to)
		default:
			fmt.Fprintf(&sb, "    %s -> %s;\n", t.from, t.to)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
