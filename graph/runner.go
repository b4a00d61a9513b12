package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
)

// Runnable executes runs of a compiled graph. It is safe for concurrent use;
// calls for the same run id are serialized.
type Runnable struct {
	graph   *StateGraph
	name    string
	entry   string
	nodes   map[string]*Node
	edges   map[string]string
	routers map[string]*ConditionalEdge
	schema  *Schema

	store       store.RunStore
	maxSteps    int
	stepTimeout time.Duration
	logger      log.Logger
	tracer      *Tracer
	locker      Locker
	concurrency ConcurrencyMode
	lockTTL     time.Duration
	locks       *runLocks
	now         func() time.Time
}

// InterruptInfo describes why a run suspended.
type InterruptInfo struct {
	Step     string
	Payload  any
	Required []string
}

// Result is the outcome of one Invoke or Resume call.
type Result struct {
	RunID  string
	Status store.Status
	// State is the last committed state.
	State State
	// Interrupt is set when Status is suspended.
	Interrupt *InterruptInfo
	// Steps lists the steps completed during this call, in order.
	Steps []string
}

// Name returns the graph name.
func (r *Runnable) Name() string { return r.name }

// Graph returns the graph the runner was compiled from.
func (r *Runnable) Graph() *StateGraph { return r.graph }

// Store returns the run store.
func (r *Runnable) Store() store.RunStore { return r.store }

// Invoke advances a run.
//
// For an unknown run id a new run starts at the entry step with input
// (nil, State or map[string]any) as its initial fields. For a suspended run
// input is the resume value. An active run, left behind by an earlier
// failure, continues from its last committed step and input must be nil.
// A terminated run cannot be invoked.
//
// Invoke returns with a nil error when the run suspends; check
// Result.Status.
func (r *Runnable) Invoke(ctx context.Context, runID string, input any) (*Result, error) {
	var res *Result
	err := r.withRunLock(ctx, runID, func(ctx context.Context) error {
		snap, err := r.store.Load(ctx, runID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			snap, err = r.create(ctx, runID, input)
			if err != nil {
				return err
			}
			res, err = r.run(ctx, snap, nil)
			return err
		case err != nil:
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		switch snap.Status {
		case store.StatusSuspended:
			res, err = r.resume(ctx, snap, input)
		case store.StatusActive:
			if input != nil {
				return &InvalidStateError{RunID: runID, Actual: snap.Status, Op: "invoke with input"}
			}
			res, err = r.run(ctx, snap, nil)
		default:
			return &InvalidStateError{RunID: runID, Actual: snap.Status, Op: "invoke"}
		}
		return err
	})
	return res, err
}

// Resume supplies the value a suspended run is waiting for and advances it.
func (r *Runnable) Resume(ctx context.Context, runID string, value any) (*Result, error) {
	var res *Result
	err := r.withRunLock(ctx, runID, func(ctx context.Context) error {
		snap, err := r.store.Load(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		if snap.Status != store.StatusSuspended {
			return &InvalidStateError{RunID: runID, Actual: snap.Status, Op: "resume"}
		}
		res, err = r.resume(ctx, snap, value)
		return err
	})
	return res, err
}

// Cancel terminates a run without executing further steps.
func (r *Runnable) Cancel(ctx context.Context, runID string) error {
	return r.withRunLock(ctx, runID, func(ctx context.Context) error {
		snap, err := r.store.Load(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		if snap.Status == store.StatusTerminated {
			return &InvalidStateError{RunID: runID, Actual: snap.Status, Op: "cancel"}
		}

		snap.Status = store.StatusTerminated
		snap.Cancelled = true
		snap.Pending = nil
		r.stoppedAt(snap, snap.CurrentStep)
		snap.CurrentStep = END
		if err := r.commit(ctx, snap); err != nil {
			return err
		}
		r.logger.Info("run %s: cancelled", runID)
		return nil
	})
}

// GetState returns the committed snapshot of a run.
func (r *Runnable) GetState(ctx context.Context, runID string) (*store.Snapshot, error) {
	return r.store.Load(ctx, runID)
}

// create builds and saves the first snapshot of a run.
func (r *Runnable) create(ctx context.Context, runID string, input any) (*store.Snapshot, error) {
	var initial State
	switch in := input.(type) {
	case nil:
	case State:
		initial = in
	case map[string]any:
		initial = State(in)
	default:
		return nil, &ContractError{RunID: runID, Op: "input", Reason: fmt.Sprintf("initial input must be a map, got %T", input)}
	}

	if reason := r.schema.Check(initial); reason != "" {
		return nil, &ContractError{RunID: runID, Op: "input", Reason: reason}
	}
	state, err := r.schema.Merge(r.schema.Init(), initial)
	if err != nil {
		return nil, &ContractError{RunID: runID, Op: "input", Reason: err.Error()}
	}

	now := r.now()
	snap := &store.Snapshot{
		RunID:       runID,
		Status:      store.StatusActive,
		CurrentStep: r.entry,
		State:       state,
		Metadata:    map[string]any{"graph": r.name},
		CreatedAt:   now,
	}
	if err := r.commit(ctx, snap); err != nil {
		return nil, err
	}
	r.logger.Debug("run %s: created at %s", runID, r.entry)
	return snap, nil
}

// resumeInput carries the value for the first step execution of a call.
type resumeInput struct {
	value any
}

func (r *Runnable) resume(ctx context.Context, snap *store.Snapshot, value any) (*Result, error) {
	pending := snap.Pending
	if pending == nil {
		return nil, fmt.Errorf("run %s is suspended without a pending interrupt", snap.RunID)
	}
	if missing := missingResumeKeys(value, pending.Required); len(missing) > 0 {
		return nil, &ContractError{
			RunID:   snap.RunID,
			Step:    pending.Step,
			Op:      "resume",
			Missing: missing,
			Reason:  "resume value lacks required keys",
		}
	}
	r.logger.Debug("run %s: resuming %s", snap.RunID, pending.Step)
	return r.run(ctx, snap, &resumeInput{value: value})
}

// run executes steps until the run ends, suspends or fails.
func (r *Runnable) run(ctx context.Context, snap *store.Snapshot, resume *resumeInput) (res *Result, err error) {
	res = &Result{RunID: snap.RunID}

	runSpan := r.tracer.start(ctx, TraceEventRunStart, snap.RunID, "")
	ctx = ContextWithSpan(ctx, runSpan)
	defer func() {
		res.Status = snap.Status
		res.State = State(snap.State).Clone()
		r.tracer.end(ctx, runSpan, TraceEventRunEnd, res.State, err)
	}()

	for snap.CurrentStep != END {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("run %s stopped before %s: %w", snap.RunID, snap.CurrentStep, err)
		}

		if r.maxSteps > 0 && snap.StepCount >= r.maxSteps {
			budgetErr := &StepBudgetError{RunID: snap.RunID, Limit: r.maxSteps}
			snap.Status = store.StatusTerminated
			snap.Pending = nil
			snap.LastError = budgetErr.Error()
			r.stoppedAt(snap, snap.CurrentStep)
			snap.CurrentStep = END
			return res, withCommitErr(budgetErr, r.commit(ctx, snap))
		}

		node, ok := r.nodes[snap.CurrentStep]
		if !ok {
			return res, r.fail(ctx, snap, &RoutingError{RunID: snap.RunID, Step: snap.CurrentStep, Label: snap.CurrentStep})
		}

		cmd, stepErr := r.execute(ctx, snap, node, resume)
		resume = nil

		var ni *NodeInterrupt
		if errors.As(stepErr, &ni) {
			snap.Status = store.StatusSuspended
			snap.LastError = ""
			snap.Pending = &store.PendingInterrupt{
				Step:      node.Name,
				Payload:   ni.Value,
				Required:  ni.Required,
				CreatedAt: r.now(),
			}
			if err := r.commit(ctx, snap); err != nil {
				return res, err
			}
			res.Interrupt = &InterruptInfo{Step: node.Name, Payload: ni.Value, Required: slices.Clone(ni.Required)}
			r.logger.Info("run %s: suspended at %s", snap.RunID, node.Name)
			return res, nil
		}
		if stepErr != nil {
			return res, r.fail(ctx, snap, &StepError{RunID: snap.RunID, Step: node.Name, Err: stepErr})
		}

		var update State
		if cmd != nil {
			update = cmd.Update
		}
		if reason := r.checkWrites(node, update); reason != "" {
			return res, r.fail(ctx, snap, &ContractError{RunID: snap.RunID, Step: node.Name, Op: "update", Reason: reason})
		}
		merged, err := r.schema.Merge(snap.State, update)
		if err != nil {
			return res, r.fail(ctx, snap, &ContractError{RunID: snap.RunID, Step: node.Name, Op: "update", Reason: err.Error()})
		}

		next, err := r.next(ctx, snap.RunID, node, cmd, merged)
		if err != nil {
			return res, r.fail(ctx, snap, err)
		}

		snap.State = merged
		snap.StepCount++
		snap.CurrentStep = next
		snap.Pending = nil
		snap.LastError = ""
		if next == END {
			snap.Status = store.StatusTerminated
		} else {
			snap.Status = store.StatusActive
		}
		if err := r.commit(ctx, snap); err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, node.Name)
		r.tracer.TraceEdgeTraversal(ctx, snap.RunID, node.Name, next)
	}

	r.logger.Debug("run %s: finished after %d steps", snap.RunID, snap.StepCount)
	return res, nil
}

// execute runs one step with its retry, timeout and resume value.
func (r *Runnable) execute(ctx context.Context, snap *store.Snapshot, node *Node, resume *resumeInput) (*Command, error) {
	timeout := node.Timeout
	if timeout == 0 {
		timeout = r.stepTimeout
	}

	span := r.tracer.start(ctx, TraceEventNodeStart, snap.RunID, node.Name)
	cmd, err := retry(ctx, node.Retry, node.Name, func(ctx context.Context, attempt int) (*Command, error) {
		sctx := withStepInfo(ContextWithSpan(ctx, span), StepInfo{RunID: snap.RunID, Step: node.Name, Attempt: attempt})
		if resume != nil {
			sctx = WithResumeValue(sctx, resume.value)
		}
		if attempt > 1 {
			r.logger.Warn("run %s: retrying %s (attempt %d)", snap.RunID, node.Name, attempt)
		}
		return withTimeout(sctx, timeout, node.Name, func(ctx context.Context) (cmd *Command, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic in node %s: %v", node.Name, p)
				}
			}()
			return node.Function(ctx, State(snap.State).Clone())
		})
	})

	var ni *NodeInterrupt
	switch {
	case errors.As(err, &ni):
		if ni.Node == "" {
			ni.Node = node.Name
		}
		r.tracer.end(ctx, span, TraceEventInterrupt, nil, nil)
	case err != nil:
		r.tracer.end(ctx, span, TraceEventNodeError, nil, err)
	default:
		r.tracer.end(ctx, span, TraceEventNodeEnd, nil, nil)
	}
	return cmd, err
}

func (r *Runnable) checkWrites(node *Node, update State) string {
	if len(update) == 0 {
		return ""
	}
	if len(node.Writes) > 0 {
		var outside []string
		for _, k := range slices.Sorted(maps.Keys(update)) {
			if !slices.Contains(node.Writes, k) {
				outside = append(outside, k)
			}
		}
		if len(outside) > 0 {
			return fmt.Sprintf("fields not declared writable: %v", outside)
		}
	}
	return r.schema.Check(update)
}

// next resolves the step after node: an explicit Goto, the fixed edge, or
// the router.
func (r *Runnable) next(ctx context.Context, runID string, node *Node, cmd *Command, state State) (string, error) {
	if cmd != nil && cmd.Goto != "" {
		if !slices.Contains(node.Destinations, cmd.Goto) {
			return "", &RoutingError{RunID: runID, Step: node.Name, Label: cmd.Goto}
		}
		return cmd.Goto, nil
	}

	if to, ok := r.edges[node.Name]; ok {
		return to, nil
	}

	if ce, ok := r.routers[node.Name]; ok {
		label, err := r.route(ctx, runID, node.Name, ce.Router, state)
		if err != nil {
			return "", err
		}
		if to, ok := ce.PathMap[label]; ok {
			return to, nil
		}
		if ce.Fallback != "" {
			to := ce.PathMap[ce.Fallback]
			r.logger.Warn("run %s: router after %s returned unknown label %q, falling back to %s", runID, node.Name, label, to)
			return to, nil
		}
		return "", &RoutingError{RunID: runID, Step: node.Name, Label: label}
	}

	return "", &RoutingError{RunID: runID, Step: node.Name}
}

// route calls a router, turning a panic into a *RoutingError.
func (r *Runnable) route(ctx context.Context, runID, step string, router RouterFunc, state State) (label string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RoutingError{RunID: runID, Step: step, Panic: p}
		}
	}()
	return router(ctx, state.Clone()), nil
}

// fail records cause as the run's last error and returns it. State, cursor
// and status are left as they were.
func (r *Runnable) fail(ctx context.Context, snap *store.Snapshot, cause error) error {
	r.logger.Warn("%v", cause)
	snap.LastError = cause.Error()
	return withCommitErr(cause, r.commit(ctx, snap))
}

// withCommitErr keeps cause as the returned error, adding a failed save
// when there was one.
func withCommitErr(cause, commitErr error) error {
	if commitErr == nil {
		return cause
	}
	return errors.Join(cause, commitErr)
}

func (r *Runnable) stoppedAt(snap *store.Snapshot, step string) {
	if snap.Metadata == nil {
		snap.Metadata = map[string]any{}
	}
	snap.Metadata["stopped_at"] = step
}

// commit saves snap as the next version.
func (r *Runnable) commit(ctx context.Context, snap *store.Snapshot) error {
	snap.Version++
	snap.UpdatedAt = r.now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.UpdatedAt
	}
	// Saving must not be skipped because the caller gave up mid-step.
	if err := r.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return &ConcurrencyError{RunID: snap.RunID, Err: err}
		}
		return fmt.Errorf("failed to save run %s: %w", snap.RunID, err)
	}
	return nil
}

func (t *Tracer) start(ctx context.Context, event TraceEvent, runID, node string) *TraceSpan {
	if t == nil {
		return nil
	}
	return t.StartSpan(ctx, event, runID, node)
}

func (t *Tracer) end(ctx context.Context, span *TraceSpan, event TraceEvent, state State, err error) {
	if t == nil {
		return
	}
	t.EndSpan(ctx, span, event, state, err)
}
