package graph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConcurrencyMode decides what a caller does when another caller is
// already advancing the same run.
type ConcurrencyMode int

const (
	// ConcurrencyBlock waits for the other caller to finish.
	ConcurrencyBlock ConcurrencyMode = iota
	// ConcurrencyReject fails immediately with ErrRunBusy.
	ConcurrencyReject
)

func (m ConcurrencyMode) String() string {
	switch m {
	case ConcurrencyBlock:
		return "block"
	case ConcurrencyReject:
		return "reject"
	default:
		return fmt.Sprintf("ConcurrencyMode(%d)", int(m))
	}
}

// ParseConcurrencyMode parses "block" or "reject".
func ParseConcurrencyMode(s string) (ConcurrencyMode, error) {
	switch s {
	case "", "block":
		return ConcurrencyBlock, nil
	case "reject":
		return ConcurrencyReject, nil
	}
	return ConcurrencyBlock, fmt.Errorf("unknown concurrency mode %q", s)
}

// Locker is a lock shared between processes, keyed by run id.
// store/redis.Locker implements it.
type Locker interface {
	// Lock waits until the lock is held or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
	// TryLock makes one attempt; ok is false when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// lockEntry holds the per-run semaphore and its reference count.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// runLocks serializes callers per run id inside one process. Entries are
// reference counted and removed when the last caller leaves, so idle and
// suspended runs hold no lock memory.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*lockEntry)}
}

func (l *runLocks) acquire(runID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[runID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[runID] = entry
	}
	entry.refs++
	return entry
}

func (l *runLocks) release(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[runID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, runID)
	}
}

// size reports the number of live entries.
func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// withRunLock runs fn while holding the run's local lock and, if configured,
// the distributed lock.
func (r *Runnable) withRunLock(ctx context.Context, runID string, fn func(context.Context) error) error {
	entry := r.locks.acquire(runID)
	defer r.locks.release(runID)

	switch r.concurrency {
	case ConcurrencyReject:
		select {
		case entry.sem <- struct{}{}:
		default:
			return &ConcurrencyError{RunID: runID, Err: ErrRunBusy}
		}
	default:
		select {
		case entry.sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("run %s: waiting for lock: %w", runID, ctx.Err())
		}
	}
	defer func() { <-entry.sem }()

	if r.locker != nil {
		var (
			unlock func(context.Context) error
			err    error
		)
		if r.concurrency == ConcurrencyReject {
			var ok bool
			unlock, ok, err = r.locker.TryLock(ctx, runID, r.lockTTL)
			if err == nil && !ok {
				return &ConcurrencyError{RunID: runID, Err: ErrRunBusy}
			}
		} else {
			unlock, err = r.locker.Lock(ctx, runID, r.lockTTL)
		}
		if err != nil {
			return &ConcurrencyError{RunID: runID, Err: fmt.Errorf("failed to acquire distributed lock: %w", err)}
		}
		defer func() {
			// Use a fresh context: ctx may already be cancelled.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to release distributed lock for run %s (will expire via TTL): %v", runID, err)
			}
		}()
	}

	return fn(ctx)
}
