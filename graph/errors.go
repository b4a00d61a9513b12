package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/store"
)

var (
	// ErrInvalidGraph is wrapped by every *ConfigError.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrRouting is wrapped by *RoutingError.
	ErrRouting = errors.New("routing error")

	// ErrContract is wrapped by *ContractError.
	ErrContract = errors.New("contract violation")

	// ErrInvalidState is wrapped by *InvalidStateError.
	ErrInvalidState = errors.New("invalid run state")

	// ErrStepBudgetExceeded is wrapped by *StepBudgetError.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	// ErrRunBusy means another caller holds the run and the runner was
	// configured to reject rather than wait.
	ErrRunBusy = errors.New("run is busy")

	// ErrStepTimeout is wrapped by the *StepError of a step that exceeded its
	// time limit.
	ErrStepTimeout = errors.New("step timed out")
)

// ConfigError reports every problem found while compiling a graph.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid graph: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error { return ErrInvalidGraph }

// RoutingError is returned when a router produces a label that is not in its
// path map and no fallback is configured, or a step jumps to a step it did
// not declare, or when the router itself panics. The run keeps its last
// committed state.
type RoutingError struct {
	RunID string
	Step  string
	Label string
	// Panic holds the recovered value when the router panicked.
	Panic any
}

func (e *RoutingError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("run %s: router after step %s panicked: %v", e.RunID, e.Step, e.Panic)
	}
	return fmt.Sprintf("run %s: step %s routed to unknown target %q", e.RunID, e.Step, e.Label)
}

func (e *RoutingError) Unwrap() error { return ErrRouting }

// ContractError is returned when a step update, an initial input or a resume
// value violates what the graph declared.
type ContractError struct {
	RunID   string
	Step    string
	Op      string // "update", "input" or "resume"
	Missing []string
	Reason  string
}

func (e *ContractError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s contract violated", e.RunID, e.Op)
	if e.Step != "" {
		fmt.Fprintf(&b, " at step %s", e.Step)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ContractError) Unwrap() error { return ErrContract }

// InvalidStateError is returned when an operation is not allowed in the
// run's current status.
type InvalidStateError struct {
	RunID  string
	Actual store.Status
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("run %s: cannot %s a %s run", e.RunID, e.Op, e.Actual)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// StepBudgetError is returned when a run executes more steps than allowed.
// The run is terminated.
type StepBudgetError struct {
	RunID string
	Limit int
}

func (e *StepBudgetError) Error() string {
	return fmt.Sprintf("run %s: exceeded step budget of %d", e.RunID, e.Limit)
}

func (e *StepBudgetError) Unwrap() error { return ErrStepBudgetExceeded }

// StepError carries the failure of a step function. The run keeps the state
// and cursor it had before the step.
type StepError struct {
	RunID string
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("run %s: step %s failed: %v", e.RunID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ConcurrencyError is returned when a run could not be advanced because
// another caller holds it or committed first.
type ConcurrencyError struct {
	RunID string
	Err   error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("run %s: concurrent modification: %v", e.RunID, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// NodeInterrupt is returned by Interrupt when a step needs outside input.
type NodeInterrupt struct {
	// Node is the name of the step that triggered the interrupt
	Node string
	// Value is the payload shown to whoever resumes the run
	Value any
	// Required lists the keys the resume value must contain
	Required []string
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Value)
}
