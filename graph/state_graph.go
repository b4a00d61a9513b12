package graph

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/memory"
)

// StateGraph is the builder for a graph of steps over a shared State.
// Problems found while building are collected and reported together by
// Compile.
type StateGraph struct {
	name string

	// nodes is a map of node names to their corresponding Node objects
	nodes map[string]*Node
	order []string

	// edges holds fixed transitions in the order they were added
	edges []Edge

	// conditionalEdges maps a source node to its router
	conditionalEdges map[string]*ConditionalEdge

	// entryPoint is the name of the first step of every run
	entryPoint string

	// schema declares fields and reducers; nil means every field overwrites
	schema *Schema

	problems []string
}

// GraphOption configures a StateGraph.
type GraphOption func(*StateGraph)

// WithName names the graph. The name is stored in run metadata and used as
// a metrics label.
func WithName(name string) GraphOption {
	return func(g *StateGraph) { g.name = name }
}

// WithSchema sets the state schema.
func WithSchema(s *Schema) GraphOption {
	return func(g *StateGraph) { g.schema = s }
}

// NewStateGraph creates an empty graph.
func NewStateGraph(opts ...GraphOption) *StateGraph {
	g := &StateGraph{
		name:             "graph",
		nodes:            make(map[string]*Node),
		conditionalEdges: make(map[string]*ConditionalEdge),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the graph name.
func (g *StateGraph) Name() string { return g.name }

func (g *StateGraph) problemf(format string, args ...any) {
	g.problems = append(g.problems, fmt.Sprintf(format, args...))
}

// AddNode adds a step.
func (g *StateGraph) AddNode(name, description string, fn NodeFunc, opts ...NodeOption) *StateGraph {
	switch {
	case name == "":
		g.problemf("node name must not be empty")
		return g
	case name == END:
		g.problemf("node name %s is reserved", END)
		return g
	}
	if _, dup := g.nodes[name]; dup {
		g.problemf("duplicate node %s", name)
		return g
	}
	if fn == nil {
		g.problemf("node %s has no function", name)
	}

	node := &Node{Name: name, Description: description, Function: fn}
	for _, opt := range opts {
		opt(node)
	}
	g.nodes[name] = node
	g.order = append(g.order, name)
	return g
}

// AddEdge adds a fixed transition from one step to another.
func (g *StateGraph) AddEdge(from, to string) *StateGraph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdges routes from a step through router. The router's
// label is looked up in pathMap to find the next step.
func (g *StateGraph) AddConditionalEdges(from string, router RouterFunc, pathMap map[string]string, opts ...EdgeOption) *StateGraph {
	if _, dup := g.conditionalEdges[from]; dup {
		g.problemf("node %s has more than one router", from)
		return g
	}
	ce := &ConditionalEdge{From: from, Router: router, PathMap: pathMap}
	for _, opt := range opts {
		opt(ce)
	}
	g.conditionalEdges[from] = ce
	return g
}

// SetEntryPoint sets the first step.
func (g *StateGraph) SetEntryPoint(name string) *StateGraph {
	g.entryPoint = name
	return g
}

// SetSchema sets the state schema.
func (g *StateGraph) SetSchema(s *Schema) *StateGraph {
	g.schema = s
	return g
}

// Nodes returns the steps in the order they were added.
func (g *StateGraph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

func (g *StateGraph) known(name string) bool {
	if name == END {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

// Validate returns every structural problem of the graph, or nil.
func (g *StateGraph) Validate() error {
	problems := slices.Clone(g.problems)
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case g.entryPoint == "":
		add("entry point not set")
	case g.entryPoint == END:
		add("entry point cannot be %s", END)
	case !g.known(g.entryPoint):
		add("entry point %s is not a node", g.entryPoint)
	}

	fixed := make(map[string]int)
	for _, e := range g.edges {
		if e.From == END {
			add("edge from %s is not allowed", END)
		} else if !g.known(e.From) {
			add("edge from unknown node %s", e.From)
		}
		if !g.known(e.To) {
			add("edge from %s to unknown node %s", e.From, e.To)
		}
		fixed[e.From]++
		if fixed[e.From] == 2 {
			add("node %s has more than one outgoing edge", e.From)
		}
	}

	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		ce := g.conditionalEdges[from]
		if !g.known(from) || from == END {
			add("router from unknown node %s", from)
		}
		if fixed[from] > 0 {
			add("node %s has both an edge and a router", from)
		}
		if ce.Router == nil {
			add("router from %s has no function", from)
		}
		if len(ce.PathMap) == 0 {
			add("router from %s has an empty path map", from)
		}
		for _, label := range slices.Sorted(maps.Keys(ce.PathMap)) {
			if to := ce.PathMap[label]; !g.known(to) {
				add("router from %s maps %q to unknown node %s", from, label, to)
			}
		}
		if ce.Fallback != "" {
			if _, ok := ce.PathMap[ce.Fallback]; !ok {
				add("router from %s has fallback %q that is not a path map label", from, ce.Fallback)
			}
		}
	}

	for _, node := range g.Nodes() {
		for _, d := range node.Destinations {
			if !g.known(d) {
				add("node %s declares unknown destination %s", node.Name, d)
			}
		}
		if g.schema != nil {
			for _, w := range node.Writes {
				if _, ok := g.schema.Field(w); !ok {
					add("node %s writes undeclared field %s", node.Name, w)
				}
			}
		}
		_, routed := g.conditionalEdges[node.Name]
		if fixed[node.Name] == 0 && !routed && len(node.Destinations) == 0 {
			add("node %s has no outgoing edge", node.Name)
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// CompileOption configures a Runnable.
type CompileOption func(*Runnable)

// WithStore sets where run snapshots are kept. The default is an in-memory
// store.
func WithStore(s store.RunStore) CompileOption {
	return func(r *Runnable) { r.store = s }
}

// WithMaxSteps caps the number of steps one run may execute. Zero means no
// limit.
func WithMaxSteps(n int) CompileOption {
	return func(r *Runnable) { r.maxSteps = n }
}

// WithStepTimeout bounds every step that has no timeout of its own.
func WithStepTimeout(d time.Duration) CompileOption {
	return func(r *Runnable) { r.stepTimeout = d }
}

// WithLogger sets the runner's logger.
func WithLogger(l log.Logger) CompileOption {
	return func(r *Runnable) { r.logger = l }
}

// WithTracer sets the tracer that receives run events.
func WithTracer(t *Tracer) CompileOption {
	return func(r *Runnable) { r.tracer = t }
}

// WithLocker adds a lock shared between processes.
func WithLocker(l Locker) CompileOption {
	return func(r *Runnable) { r.locker = l }
}

// WithConcurrency sets what happens when a run is already being advanced.
func WithConcurrency(mode ConcurrencyMode) CompileOption {
	return func(r *Runnable) { r.concurrency = mode }
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(d time.Duration) CompileOption {
	return func(r *Runnable) { r.lockTTL = d }
}

// Compile validates the graph and returns a runner for it.
func (g *StateGraph) Compile(opts ...CompileOption) (*Runnable, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	routes := make(map[string]string, len(g.edges))
	for _, e := range g.edges {
		routes[e.From] = e.To
	}

	r := &Runnable{
		graph:   g,
		name:    g.name,
		entry:   g.entryPoint,
		nodes:   maps.Clone(g.nodes),
		edges:   routes,
		routers: maps.Clone(g.conditionalEdges),
		schema:  g.schema,
		lockTTL: 30 * time.Second,
		locks:   newRunLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = memory.NewMemoryRunStore()
	}
	if r.logger == nil {
		r.logger = log.GetDefaultLogger()
	}
	return r, nil
}
