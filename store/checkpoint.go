package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for a run id.
	// A run whose state is empty is not "not found".
	ErrNotFound = errors.New("run not found")

	// ErrVersionConflict is returned by Save when the stored version is not
	// exactly one less than the snapshot being saved.
	ErrVersionConflict = errors.New("snapshot version conflict")
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusActive means the run has no pending interrupt and can continue.
	StatusActive Status = "active"

	// StatusSuspended means the run is waiting for a resume value.
	StatusSuspended Status = "suspended"

	// StatusTerminated means the run reached an end step, was cancelled,
	// or exhausted its step budget.
	StatusTerminated Status = "terminated"
)

// PendingInterrupt describes the step a suspended run is waiting on.
type PendingInterrupt struct {
	Step      string    `json:"step"`
	Payload   any       `json:"payload"`
	Required  []string  `json:"required,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the committed state of a single run.
type Snapshot struct {
	RunID       string            `json:"run_id"`
	Status      Status            `json:"status"`
	CurrentStep string            `json:"current_step"`
	Pending     *PendingInterrupt `json:"pending,omitempty"`
	State       map[string]any    `json:"state"`
	StepCount   int               `json:"step_count"`
	Version     int64             `json:"version"`
	LastError   string            `json:"last_error,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a copy of the snapshot. State and Metadata maps are copied
// shallowly; values themselves are shared.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.State != nil {
		cp.State = maps.Clone(s.State)
	}
	if s.Metadata != nil {
		cp.Metadata = maps.Clone(s.Metadata)
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Required = slices.Clone(s.Pending.Required)
		cp.Pending = &p
	}
	return &cp
}

// RunStore defines the interface for run snapshot persistence.
//
// Implementations must make Save atomic with respect to a concurrent Load of
// the same run id, and must enforce the version rule: a snapshot with
// Version 1 creates the run, any other Version must be exactly the stored
// version plus one. Violations return ErrVersionConflict.
type RunStore interface {
	// Save stores a snapshot
	Save(ctx context.Context, snapshot *Snapshot) error

	// Load retrieves the latest snapshot of a run. Returns ErrNotFound for unknown ids.
	Load(ctx context.Context, runID string) (*Snapshot, error)

	// Delete removes a run. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the ids of all stored runs, sorted.
	List(ctx context.Context) ([]string, error)
}

// CheckVersion applies the version rule shared by all stores. stored is the
// version currently persisted, or 0 when the run does not exist.
func CheckVersion(stored, next int64) error {
	if next != stored+1 {
		return ErrVersionConflict
	}
	return nil
}
