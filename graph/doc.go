// Package graph provides the step graph and the runner that executes it.
//
// A graph is a set of named steps over a shared State. Each step reads the
// committed state and returns a Command carrying a partial update and,
// optionally, the next step to jump to. Transitions are fixed edges,
// routers that map a label to a successor, or explicit jumps to declared
// destinations. Cycles are allowed; END is the terminal marker.
//
// # Building a graph
//
//	schema := graph.NewSchema(
//		graph.FieldOf[string]("email"),
//		graph.FieldOf[string]("intent"),
//		graph.AppendField[string]("messages"),
//	)
//
//	g := graph.NewStateGraph(graph.WithName("triage"), graph.WithSchema(schema))
//	g.AddNode("classify", "classify the email", classify)
//	g.AddNode("search", "look up documentation", search)
//	g.AddNode("review", "wait for a human", review)
//	g.AddConditionalEdges("classify", routeIntent, map[string]string{
//		"question": "search",
//		"other":    "review",
//	}, graph.WithFallback("other"))
//	g.AddEdge("search", "review")
//	g.AddEdge("review", graph.END)
//	g.SetEntryPoint("classify")
//
//	runner, err := g.Compile(graph.WithStore(store), graph.WithMaxSteps(25))
//
// Compile reports every structural problem at once as a *ConfigError.
//
// # Runs
//
// A run is identified by a caller-chosen id. After every step the runner
// merges the update through the schema's reducers and saves a snapshot with
// the next version number, so a process that dies between steps loses at
// most the step in flight. Invoke starts or continues a run; a step that
// calls Interrupt suspends it:
//
//	func review(ctx context.Context, s graph.State) (*graph.Command, error) {
//		v, err := graph.Interrupt(ctx, map[string]any{"draft": s["draft"]}, "approved")
//		if err != nil {
//			return nil, err
//		}
//		...
//	}
//
// Resume re-executes the suspended step with the supplied value, which
// Interrupt then returns. Steps that interrupt must therefore be safe to run
// twice.
//
// # Errors
//
// Failures come back as typed errors that wrap sentinels usable with
// errors.Is: ErrInvalidGraph, ErrRouting, ErrContract, ErrInvalidState,
// ErrStepBudgetExceeded, ErrRunBusy and ErrStepTimeout. A failing step
// leaves the run at its last committed state with LastError recorded.
//
// # Concurrency
//
// Calls for the same run id are serialized inside a process; WithLocker adds
// a lock shared between processes. Different runs proceed in parallel.
package graph
