package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteRunStore {
	t.Helper()
	s, err := NewSqliteRunStore(SqliteOptions{
		Path: filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSqliteRunStore_Contract(t *testing.T) {
	storetest.RunContract(t, func(t *testing.T) store.RunStore {
		return newTestStore(t)
	})
}

func TestSqliteRunStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	active := storetest.NewSnapshot("run-active")
	suspended := storetest.NewSnapshot("run-suspended")
	suspended.Status = store.StatusSuspended
	require.NoError(t, s.Save(ctx, active))
	require.NoError(t, s.Save(ctx, suspended))

	ids, err := s.ListByStatus(ctx, store.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-suspended"}, ids)

	next := suspended.Clone()
	next.Version = 2
	next.Status = store.StatusTerminated
	require.NoError(t, s.Save(ctx, next))

	ids, err = s.ListByStatus(ctx, store.StatusSuspended)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSqliteRunStore_CustomTable(t *testing.T) {
	ctx := context.Background()
	s, err := NewSqliteRunStore(SqliteOptions{Path: ":memory:", TableName: "email_runs"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, storetest.NewSnapshot("r1")))
	loaded, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", loaded.RunID)
}
