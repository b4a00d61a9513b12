package graph

import (
	"context"
	"time"
)

// END is the reserved name of the terminal step. Routing to END finishes the
// run.
const END = "END"

// NodeFunc is the signature of a step. It receives a copy of the run's state
// and returns the update to merge, optionally with an explicit next step.
// Returning a nil *Command is the same as returning an empty update.
type NodeFunc func(ctx context.Context, state State) (*Command, error)

// RouterFunc picks a path-map label after a step has run.
type RouterFunc func(ctx context.Context, state State) string

// Command is what a step returns: fields to merge and, optionally, the step
// to run next. Goto must be one of the step's declared destinations.
type Command struct {
	Update State
	Goto   string
}

// Update returns a Command that only merges fields.
func Update(update State) *Command {
	return &Command{Update: update}
}

// Goto returns a Command that merges update and jumps to the named step.
func Goto(to string, update State) *Command {
	return &Command{Update: update, Goto: to}
}

// Node represents a step in the graph.
type Node struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the step itself.
	Function NodeFunc

	// Destinations lists the steps Function may jump to with Goto.
	Destinations []string

	// Writes, when set, restricts the fields an update may name.
	Writes []string

	// Reads documents the fields the step consumes.
	Reads []string

	// Timeout bounds one execution of the step. Zero uses the runner default.
	Timeout time.Duration

	// Retry re-runs the step on failure. Interrupts are never retried.
	Retry *RetryConfig
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithDestinations declares the steps a node may jump to with Goto. A node
// with destinations needs no outgoing edge.
func WithDestinations(names ...string) NodeOption {
	return func(n *Node) { n.Destinations = append(n.Destinations, names...) }
}

// WithWrites restricts the fields the node's updates may touch.
func WithWrites(fields ...string) NodeOption {
	return func(n *Node) { n.Writes = append(n.Writes, fields...) }
}

// WithReads documents the fields the node consumes.
func WithReads(fields ...string) NodeOption {
	return func(n *Node) { n.Reads = append(n.Reads, fields...) }
}

// WithTimeout bounds each execution of the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *Node) { n.Timeout = d }
}

// WithRetry retries failed executions of the node.
func WithRetry(cfg *RetryConfig) NodeOption {
	return func(n *Node) { n.Retry = cfg }
}

// Edge represents a fixed transition.
type Edge struct {
	// From is the name of the node from which the edge originates.
	From string

	// To is the name of the node to which the edge points.
	To string
}

// ConditionalEdge routes from one node through a router and a path map.
type ConditionalEdge struct {
	From     string
	Router   RouterFunc
	PathMap  map[string]string
	Fallback string
}

// EdgeOption configures a ConditionalEdge.
type EdgeOption func(*ConditionalEdge)

// WithFallback sends labels missing from the path map to the target of
// label instead of failing the run.
func WithFallback(label string) EdgeOption {
	return func(e *ConditionalEdge) { e.Fallback = label }
}
