package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store/file"
	"github.com/smallnest/stepgraph/store/memory"
	redisstore "github.com/smallnest/stepgraph/store/redis"
	"github.com/smallnest/stepgraph/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverFile, cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Runner.MaxSteps)
	assert.Equal(t, "block", cfg.Runner.Concurrency)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
store:
  driver: redis
  redis:
    addr: localhost:6379
    db: 2
    prefix: "app:"
    ttl: 24h
    lock: true
runner:
  max_steps: 50
  step_timeout: 90s
  concurrency: reject
llm:
  base_url: https://open.bigmodel.cn/api/paas/v4/
  model: glm-4-flash
  api_key_env: ZHIPU_API_KEY
  temperature: 0.2
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, RedisConfig{Addr: "localhost:6379", DB: 2, Prefix: "app:", TTL: 24 * time.Hour, Lock: true}, cfg.Store.Redis)
	assert.Equal(t, RunnerConfig{MaxSteps: 50, StepTimeout: 90 * time.Second, Concurrency: "reject", LockTTL: 30 * time.Second}, cfg.Runner)
	assert.Equal(t, "glm-4-flash", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	// Unset sections keep their defaults.
	assert.Equal(t, "BRAVE_API_KEY", cfg.Search.BraveAPIKeyEnv)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{name: "unknown driver", yaml: "store: {driver: mongo}", errMsg: `unknown store driver "mongo"`},
		{name: "sqlite without path", yaml: "store: {driver: sqlite, path: ''}", errMsg: "store.path is required for the sqlite driver"},
		{name: "postgres without dsn", yaml: "store: {driver: postgres}", errMsg: "store.dsn is required"},
		{name: "redis without addr", yaml: "store: {driver: redis}", errMsg: "store.redis.addr is required"},
		{name: "lock without redis", yaml: "store: {driver: memory, redis: {lock: true}}", errMsg: "store.redis.lock needs the redis driver"},
		{name: "negative steps", yaml: "runner: {max_steps: -1}", errMsg: "runner.max_steps must not be negative"},
		{name: "bad concurrency", yaml: "runner: {concurrency: queue}", errMsg: "queue"},
		{name: "bad level", yaml: "log: {level: loud}", errMsg: `unknown log level "loud"`},
		{name: "bad temperature", yaml: "llm: {temperature: 3}", errMsg: "llm.temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("store: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "stepgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: {driver: memory}\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAPIKey(t *testing.T) {
	t.Setenv("TEST_STEPGRAPH_KEY", "")
	_, err := LLMConfig{APIKeyEnv: "TEST_STEPGRAPH_KEY"}.APIKey()
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("TEST_STEPGRAPH_KEY", "secret")
	key, err := LLMConfig{APIKeyEnv: "TEST_STEPGRAPH_KEY"}.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	t.Setenv("TEST_STEPGRAPH_KEY", "")
	_, err = LLMConfig{APIKeyEnv: "TEST_STEPGRAPH_KEY"}.OpenModel()
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("TEST_STEPGRAPH_KEY", "secret")
	m, err := LLMConfig{APIKeyEnv: "TEST_STEPGRAPH_KEY", Model: "glm-4-flash", BaseURL: "http://localhost:1/v1"}.OpenModel()
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := StoreConfig{Driver: DriverMemory}.Open(ctx)
		require.NoError(t, err)
		assert.IsType(t, &memory.MemoryRunStore{}, b.Store)
		assert.NoError(t, b.Close())
	})

	t.Run("file", func(t *testing.T) {
		b, err := StoreConfig{Driver: DriverFile, Path: t.TempDir()}.Open(ctx)
		require.NoError(t, err)
		assert.IsType(t, &file.FileRunStore{}, b.Store)
	})

	t.Run("sqlite", func(t *testing.T) {
		b, err := StoreConfig{Driver: DriverSqlite, Path: filepath.Join(t.TempDir(), "runs.db")}.Open(ctx)
		require.NoError(t, err)
		assert.IsType(t, &sqlite.SqliteRunStore{}, b.Store)
		assert.NoError(t, b.Close())
	})

	t.Run("redis with lock", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := StoreConfig{Driver: DriverRedis, Redis: RedisConfig{Addr: mr.Addr(), Lock: true}}.Open(ctx)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &redisstore.RedisRunStore{}, b.Store)
		require.NotNil(t, b.Locker)

		ids, err := b.Store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := StoreConfig{Driver: "mongo"}.Open(ctx)
		assert.Error(t, err)
	})
}

func TestCompileOptions(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverMemory
	cfg.Runner.MaxSteps = 2
	b, err := cfg.Store.Open(context.Background())
	require.NoError(t, err)

	opts, err := cfg.CompileOptions(b, log.NoOpLogger{})
	require.NoError(t, err)

	step := func(context.Context, graph.State) (*graph.Command, error) { return nil, nil }
	g := graph.NewStateGraph().
		AddNode("a", "", step).
		AddNode("b", "", step).
		AddNode("c", "", step).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", graph.END).
		SetEntryPoint("a")
	r, err := g.Compile(opts...)
	require.NoError(t, err)
	assert.Same(t, b.Store, r.Store())

	_, err = r.Invoke(context.Background(), "run-1", nil)
	assert.ErrorIs(t, err, graph.ErrStepBudgetExceeded)
}

func TestLogger(t *testing.T) {
	l := LogConfig{Level: "warn"}.Logger()
	require.IsType(t, &log.GologLogger{}, l)
	assert.Equal(t, log.LogLevelWarn, l.(*log.GologLogger).GetLevel())
}
