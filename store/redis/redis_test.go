package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunStore_Contract(t *testing.T) {
	storetest.RunContract(t, func(t *testing.T) store.RunStore {
		mr := miniredis.RunT(t)
		return NewRedisRunStore(RedisOptions{Addr: mr.Addr()})
	})
}

func TestRedisRunStore_Keys(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisRunStore(RedisOptions{Addr: mr.Addr(), Prefix: "email:"})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, storetest.NewSnapshot("run-1")))

	assert.True(t, mr.Exists("email:run:run-1"))
	assert.Equal(t, "1", mr.HGet("email:run:run-1", "version"))
	assert.Equal(t, "active", mr.HGet("email:run:run-1", "status"))

	members, err := mr.Members("email:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, members)
}

func TestRedisRunStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisRunStore(RedisOptions{Addr: mr.Addr(), TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, storetest.NewSnapshot("run-1")))
	require.NoError(t, s.Save(ctx, storetest.NewSnapshot("run-2")))
	assert.Equal(t, time.Minute, mr.TTL("stepgraph:run:run-1"))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	members, _ := mr.Members("stepgraph:runs")
	assert.Empty(t, members, "expired runs are pruned from the index")
}

func TestLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewLocker(client, "")
	b := NewLocker(client, "")

	t.Run("try lock is exclusive", func(t *testing.T) {
		unlock, ok, err := a.TryLock(ctx, "run-1", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = b.TryLock(ctx, "run-1", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, unlock(ctx))

		unlock, ok, err = b.TryLock(ctx, "run-1", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, unlock(ctx))
	})

	t.Run("stale unlock does not release new holder", func(t *testing.T) {
		unlock, ok, err := a.TryLock(ctx, "run-2", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		unlockB, ok, err := b.TryLock(ctx, "run-2", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, unlock(ctx))
		assert.True(t, mr.Exists("stepgraph:lock:run-2"))
		require.NoError(t, unlockB(ctx))
		assert.False(t, mr.Exists("stepgraph:lock:run-2"))
	})

	t.Run("lock gives up when context ends", func(t *testing.T) {
		unlock, ok, err := a.TryLock(ctx, "run-3", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer unlock(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
		defer cancel()
		_, err = b.Lock(waitCtx, "run-3", time.Minute)
		assert.ErrorIs(t, err, ErrLockAcquire)
	})

	t.Run("lock waits for release", func(t *testing.T) {
		unlock, ok, err := a.TryLock(ctx, "run-4", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		go func() {
			time.Sleep(80 * time.Millisecond)
			unlock(ctx)
		}()

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		unlockB, err := b.Lock(waitCtx, "run-4", time.Minute)
		require.NoError(t, err)
		require.NoError(t, unlockB(ctx))
	})
}
