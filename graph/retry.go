package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for nodes
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors func(error) bool // Determines if an error should trigger retry
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: func(_ error) bool {
			return true
		},
	}
}

// attemptFunc runs one execution of a step. n starts at 1.
type attemptFunc func(ctx context.Context, n int) (*Command, error)

// retry calls fn until it succeeds, interrupts, returns a non-retryable
// error or runs out of attempts. A nil cfg means a single attempt.
func retry(ctx context.Context, cfg *RetryConfig, step string, fn attemptFunc) (*Command, error) {
	if cfg == nil || cfg.MaxAttempts <= 1 {
		return fn(ctx, 1)
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("retry cancelled: %w", err)
		}

		cmd, err := fn(ctx, attempt)
		if err == nil {
			return cmd, nil
		}

		var ni *NodeInterrupt
		if errors.As(err, &ni) {
			return nil, err
		}
		lastErr = err

		if cfg.RetryableErrors != nil && !cfg.RetryableErrors(err) {
			return nil, fmt.Errorf("non-retryable error in %s: %w", step, err)
		}

		if attempt < cfg.MaxAttempts {
			select {
			case <-time.After(delay):
				next := time.Duration(float64(delay) * cfg.BackoffFactor)
				if cfg.MaxDelay > 0 {
					next = min(next, cfg.MaxDelay)
				}
				delay = next
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded for %s: %w", cfg.MaxAttempts, step, lastErr)
}

// withTimeout runs fn under a deadline. The result of a step that outlives
// its deadline is discarded; fn should watch ctx to stop early.
func withTimeout(ctx context.Context, timeout time.Duration, step string, fn func(context.Context) (*Command, error)) (*Command, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		cmd *Command
		err error
	}
	resultChan := make(chan result, 1)

	go func() {
		cmd, err := fn(timeoutCtx)
		resultChan <- result{cmd: cmd, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("node %s timed out after %v: %w", step, timeout, ErrStepTimeout)
		}
		return res.cmd, res.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("node %s timed out after %v: %w", step, timeout, ErrStepTimeout)
	}
}
