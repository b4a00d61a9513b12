// Package storetest provides a reusable test suite that verifies a
// store.RunStore implementation honours the snapshot contract.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/stepgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ticket is a struct type used to check that registered field types survive
// persistence.
type Ticket struct {
	ID       string   `json:"id"`
	Priority int      `json:"priority"`
	Labels   []string `json:"labels"`
}

// Note is never registered explicitly; saving it registers it.
type Note struct {
	Author string   `json:"author"`
	Tags   []string `json:"tags"`
}

func init() {
	_ = store.RegisterTypeWithValue(Ticket{})
}

// NewSnapshot returns a version 1 snapshot with a representative state.
func NewSnapshot(runID string) *store.Snapshot {
	now := time.Now().UTC()
	return &store.Snapshot{
		RunID:       runID,
		Status:      store.StatusActive,
		CurrentStep: "classify",
		State: map[string]any{
			"email":    "I was charged twice",
			"attempts": 3,
			"score":    0.75,
			"flag":     true,
			"results":  []string{"refund policy", "billing faq"},
			"ticket":   Ticket{ID: "BUG-001", Priority: 2, Labels: []string{"billing"}},
			"nested":   map[string]any{"count": int64(7), "items": []any{1, "two", false}},
			"empty":    nil,
		},
		StepCount: 2,
		Version:   1,
		Metadata:  map[string]any{"graph": "email"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RunContract runs the full suite against the store returned by newStore.
// newStore is called once per sub-test and must return an empty store.
func RunContract(t *testing.T, newStore func(t *testing.T) store.RunStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("load unknown run returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save and load round trip keeps field types", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-roundtrip")
		require.NoError(t, s.Save(ctx, snap))

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, snap.RunID, loaded.RunID)
		assert.Equal(t, snap.Status, loaded.Status)
		assert.Equal(t, snap.CurrentStep, loaded.CurrentStep)
		assert.Equal(t, snap.StepCount, loaded.StepCount)
		assert.Equal(t, snap.Version, loaded.Version)
		assert.Equal(t, snap.State, loaded.State)
		assert.Equal(t, snap.Metadata, loaded.Metadata)
		assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
		assert.IsType(t, 0, loaded.State["attempts"])
		assert.IsType(t, Ticket{}, loaded.State["ticket"])
	})

	t.Run("unregistered and nested types keep their shape", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-shapes")
		snap.State = map[string]any{
			"note": Note{Author: "bob", Tags: []string{"billing"}},
			"rows": []map[string]any{{"n": 2, "note": Note{Author: "ann"}}},
			"byID": map[string][]any{"a": {1, "x"}},
		}
		require.NoError(t, s.Save(ctx, snap))

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, snap.State, loaded.State)
		assert.IsType(t, Note{}, loaded.State["note"])
		assert.IsType(t, []map[string]any{}, loaded.State["rows"])
	})

	t.Run("empty state is not ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		snap := &store.Snapshot{RunID: "run-empty", Status: store.StatusActive, CurrentStep: "a", Version: 1}
		require.NoError(t, s.Save(ctx, snap))

		loaded, err := s.Load(ctx, "run-empty")
		require.NoError(t, err)
		assert.Empty(t, loaded.State)
	})

	t.Run("pending interrupt round trip", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-pending")
		snap.Status = store.StatusSuspended
		snap.Pending = &store.PendingInterrupt{
			Step:      "human_review",
			Payload:   map[string]any{"email_id": "email_002", "urgency": "critical"},
			Required:  []string{"approved"},
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.Save(ctx, snap))

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		require.NotNil(t, loaded.Pending)
		assert.Equal(t, "human_review", loaded.Pending.Step)
		assert.Equal(t, snap.Pending.Payload, loaded.Pending.Payload)
		assert.Equal(t, []string{"approved"}, loaded.Pending.Required)
	})

	t.Run("version rule", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-version")
		require.NoError(t, s.Save(ctx, snap))

		// Creating again conflicts.
		assert.ErrorIs(t, s.Save(ctx, NewSnapshot("run-version")), store.ErrVersionConflict)

		next := snap.Clone()
		next.Version = 2
		next.CurrentStep = "draft"
		require.NoError(t, s.Save(ctx, next))

		stale := snap.Clone()
		stale.Version = 2
		assert.ErrorIs(t, s.Save(ctx, stale), store.ErrVersionConflict)

		skip := snap.Clone()
		skip.Version = 5
		assert.ErrorIs(t, s.Save(ctx, skip), store.ErrVersionConflict)

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
		assert.Equal(t, "draft", loaded.CurrentStep)
	})

	t.Run("loaded snapshot is a copy", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-copy")
		require.NoError(t, s.Save(ctx, snap))
		snap.State["email"] = "mutated after save"

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, "I was charged twice", loaded.State["email"])
		loaded.State["email"] = "mutated after load"

		again, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, "I was charged twice", again.State["email"])
	})

	t.Run("delete and list", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewSnapshot("run-b")))
		require.NoError(t, s.Save(ctx, NewSnapshot("run-a")))

		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-a", "run-b"}, ids)

		require.NoError(t, s.Delete(ctx, "run-a"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, err = s.Load(ctx, "run-a")
		assert.ErrorIs(t, err, store.ErrNotFound)

		ids, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-b"}, ids)
	})

	t.Run("load never sees a partial save", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-torn")
		snap.State["marker"] = 1
		require.NoError(t, s.Save(ctx, snap))

		const versions = 30
		done := make(chan struct{})
		var saveErr error
		go func() {
			defer close(done)
			prev := snap
			for v := int64(2); v <= versions; v++ {
				next := prev.Clone()
				next.Version = v
				next.StepCount = int(v)
				next.State["marker"] = int(v)
				if saveErr = s.Save(ctx, next); saveErr != nil {
					return
				}
				prev = next
			}
		}()

		var torn []string
		for reading := true; reading; {
			select {
			case <-done:
				reading = false
			default:
			}
			loaded, err := s.Load(ctx, snap.RunID)
			if err != nil {
				torn = append(torn, err.Error())
				continue
			}
			if loaded.State["marker"] != int(loaded.Version) || (loaded.Version > 1 && loaded.StepCount != int(loaded.Version)) {
				torn = append(torn, "mismatched snapshot")
			}
		}
		require.NoError(t, saveErr)
		assert.Empty(t, torn)

		loaded, err := s.Load(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, int64(versions), loaded.Version)
	})

	t.Run("concurrent saves of one version admit exactly one", func(t *testing.T) {
		s := newStore(t)
		snap := NewSnapshot("run-race")
		require.NoError(t, s.Save(ctx, snap))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := snap.Clone()
				next.Version = 2
				next.StepCount = 100 + i
				errs[i] = s.Save(ctx, next)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, store.ErrVersionConflict), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded)
	})
}
