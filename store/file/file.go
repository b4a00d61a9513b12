// Package file stores run snapshots as one JSON document per run.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/smallnest/stepgraph/store"
)

const snapshotExt = ".json"

// FileRunStore writes each run to <dir>/<run id>.json. Writes go through a
// temporary file and a rename so a reader never sees a partial document.
// Version checks are serialized inside the process; several processes sharing
// one directory should use a distributed locker in front of the store.
type FileRunStore struct {
	path string
	mu   sync.Mutex
}

var _ store.RunStore = (*FileRunStore)(nil)

// NewFileRunStore creates a store rooted at path, creating the directory if
// needed.
func NewFileRunStore(path string) (*FileRunStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &FileRunStore{path: path}, nil
}

// Path returns the directory the store writes to.
func (f *FileRunStore) Path() string {
	return f.path
}

func (f *FileRunStore) filename(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(f.path, runID+snapshotExt), nil
}

// Save stores a snapshot
func (f *FileRunStore) Save(_ context.Context, snapshot *store.Snapshot) error {
	name, err := f.filename(snapshot.RunID)
	if err != nil {
		return err
	}
	data, err := store.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var stored int64
	current, err := f.read(name)
	switch {
	case err == nil:
		stored = current.Version
	case errors.Is(err, os.ErrNotExist):
	default:
		return err
	}
	if err := store.CheckVersion(stored, snapshot.Version); err != nil {
		return fmt.Errorf("run %s: %w", snapshot.RunID, err)
	}

	tmp, err := os.CreateTemp(f.path, ".tmp-"+snapshot.RunID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (f *FileRunStore) read(name string) (*store.Snapshot, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	snap, err := store.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(name), err)
	}
	return snap, nil
}

// Load retrieves the latest snapshot of a run
func (f *FileRunStore) Load(_ context.Context, runID string) (*store.Snapshot, error) {
	name, err := f.filename(runID)
	if err != nil {
		return nil, err
	}
	snap, err := f.read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	return snap, err
}

// Delete removes a run
func (f *FileRunStore) Delete(_ context.Context, runID string) error {
	name, err := f.filename(runID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

// List returns all run ids
func (f *FileRunStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotExt))
	}
	slices.Sort(ids)
	return ids, nil
}
