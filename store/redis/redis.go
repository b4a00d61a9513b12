package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/stepgraph/store"
)

// RedisRunStore implements store.RunStore using Redis
type RedisRunStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ store.RunStore = (*RedisRunStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "stepgraph:"
	TTL      time.Duration // Expiration for runs, default 0 (no expiration)
}

// NewRedisRunStore creates a new Redis run store
func NewRedisRunStore(opts RedisOptions) *RedisRunStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisRunStoreWithClient(client, opts)
}

// NewRedisRunStoreWithClient creates a store on an existing client. Only
// Prefix and TTL are read from opts.
func NewRedisRunStoreWithClient(client redis.UniversalClient, opts RedisOptions) *RedisRunStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "stepgraph:"
	}
	return &RedisRunStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Client returns the underlying client, for sharing it with a Locker.
func (s *RedisRunStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the client.
func (s *RedisRunStore) Close() error {
	return s.client.Close()
}

func (s *RedisRunStore) runKey(id string) string {
	return fmt.Sprintf("%srun:%s", s.prefix, id)
}

func (s *RedisRunStore) indexKey() string {
	return s.prefix + "runs"
}

// Save stores a snapshot. The run hash is watched while its version is
// checked, so a concurrent writer aborts the transaction and the loser sees
// store.ErrVersionConflict.
func (s *RedisRunStore) Save(ctx context.Context, snapshot *store.Snapshot) error {
	data, err := store.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := s.runKey(snapshot.RunID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read version: %w", err)
		}
		if err := store.CheckVersion(stored, snapshot.Version); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"version", snapshot.Version,
				"status", string(snapshot.Status),
				"snapshot", data,
			)
			pipe.SAdd(ctx, s.indexKey(), snapshot.RunID)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("run %s: %w", snapshot.RunID, store.ErrVersionConflict)
	default:
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
}

// Load retrieves the latest snapshot of a run
func (s *RedisRunStore) Load(ctx context.Context, runID string) (*store.Snapshot, error) {
	data, err := s.client.HGet(ctx, s.runKey(runID), "snapshot").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load snapshot from redis: %w", err)
	}

	snap, err := store.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List returns all run ids. Index entries whose run expired are pruned.
func (s *RedisRunStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.runKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check runs: %w", err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, s.indexKey(), stale...)
	}

	slices.Sort(live)
	return live, nil
}

// Delete removes a run
func (s *RedisRunStore) Delete(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.SRem(ctx, s.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
