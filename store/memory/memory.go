// Package memory provides an in-process store.RunStore.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/smallnest/stepgraph/store"
)

// MemoryRunStore keeps encoded snapshots in a map keyed by run id.
// Snapshots are encoded on save so that callers never share memory with the
// stored copy and unpersistable values are rejected the same way the durable
// stores reject them.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]entry
}

type entry struct {
	version int64
	data    []byte
}

var _ store.RunStore = (*MemoryRunStore)(nil)

// NewMemoryRunStore creates an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]entry),
	}
}

// Save stores a snapshot
func (m *MemoryRunStore) Save(_ context.Context, snapshot *store.Snapshot) error {
	data, err := store.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := store.CheckVersion(m.runs[snapshot.RunID].version, snapshot.Version); err != nil {
		return fmt.Errorf("run %s: %w", snapshot.RunID, err)
	}
	m.runs[snapshot.RunID] = entry{version: snapshot.Version, data: data}
	return nil
}

// Load retrieves the latest snapshot of a run
func (m *MemoryRunStore) Load(_ context.Context, runID string) (*store.Snapshot, error) {
	m.mu.RLock()
	e, ok := m.runs[runID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	return store.UnmarshalSnapshot(e.data)
}

// Delete removes a run
func (m *MemoryRunStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

// List returns all run ids
func (m *MemoryRunStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
