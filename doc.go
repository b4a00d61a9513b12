// StepGraph - Durable Step Graphs for Agent Workflows in Go
//
// StepGraph runs workflows described as graphs of named steps over a shared
// state. Every completed step is committed to a run store, so a run can
// suspend for human input, survive a process restart and be resumed by id
// later, possibly from another process.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/stepgraph
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/stepgraph/graph"
//		"github.com/smallnest/stepgraph/store/memory"
//	)
//
//	func main() {
//		g := graph.NewStateGraph(graph.WithName("greeter"))
//		g.AddNode("greet", "say hello", func(ctx context.Context, s graph.State) (*graph.Command, error) {
//			name := graph.GetOr(s, "name", "world")
//			return graph.Update(graph.State{"greeting": "hello " + name}), nil
//		})
//		g.AddEdge("greet", graph.END)
//		g.SetEntryPoint("greet")
//
//		runner, err := g.Compile(graph.WithStore(memory.NewMemoryRunStore()))
//		if err != nil {
//			panic(err)
//		}
//		res, err := runner.Invoke(context.Background(), "run-1", graph.State{"name": "gopher"})
//		if err != nil {
//			panic(err)
//		}
//		fmt.Println(res.Status, res.State["greeting"])
//	}
//
// # Packages
//
//   - graph: the graph builder, schema and reducers, the runner, interrupts,
//     tracing, streaming and Mermaid/DOT export
//   - store: the RunStore contract with memory, file, sqlite, postgres and
//     redis implementations, plus a cross-process redis lock
//   - agents/email: customer email triage with a human review step
//   - agents/docqa: question answering over a document corpus with
//     relevance grading and bounded query rewriting
//   - agents/finance: a routed research and analysis pipeline
//   - agents/react: a ReAct tool-calling loop with calculator tools
//   - agents/sqlagent: natural language questions over a SQLite database
//   - rag: document loading, splitting and keyword retrieval
//   - tool: web and knowledge base search tools
//   - llms/openai: an OpenAI-compatible model for langchaingo
//   - metrics: Prometheus collectors fed by the tracer
//   - config: YAML configuration and backend wiring
//   - log: the logger interface and its golog adapter
//
// # Human in the Loop
//
// A step that needs a decision calls graph.Interrupt. The run is saved as
// suspended with the interrupt payload, and Invoke returns. Resume later
// re-executes that step with the decision:
//
//	res, err := runner.Resume(ctx, "email_002", map[string]any{"approved": true})
//
// # Command Line
//
// cmd/stepgraph drives the bundled agents against a configured store:
//
//	stepgraph email start --from bob@example.com --body "I was charged twice!"
//	stepgraph email resume email_002 --approve
//	stepgraph runs list
//	stepgraph graph mermaid email
//	stepgraph calc "What is (3 + 4) * 3?"
//	stepgraph sql --db Chinook.db "Which genre has the longest tracks?"
//
// # License
//
// This project is licensed under the MIT License - see the LICENSE file for details.
package stepgraph // import "github.com/smallnest/stepgraph"
