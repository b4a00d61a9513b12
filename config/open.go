package config

import (
	"context"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/openai"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/file"
	"github.com/smallnest/stepgraph/store/memory"
	"github.com/smallnest/stepgraph/store/postgres"
	redisstore "github.com/smallnest/stepgraph/store/redis"
	"github.com/smallnest/stepgraph/store/sqlite"
	"github.com/tmc/langchaingo/llms"
)

// Backend is an opened run store and, for redis, a distributed locker.
type Backend struct {
	Store  store.RunStore
	Locker graph.Locker
	close  func() error
}

// Close releases the store's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the configured store.
func (c StoreConfig) Open(ctx context.Context) (*Backend, error) {
	switch c.Driver {
	case DriverMemory:
		return &Backend{Store: memory.NewMemoryRunStore()}, nil
	case DriverFile:
		s, err := file.NewFileRunStore(c.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s}, nil
	case DriverSqlite:
		s, err := sqlite.NewSqliteRunStore(sqlite.SqliteOptions{Path: c.Path, TableName: c.Table})
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, close: s.Close}, nil
	case DriverPostgres:
		s, err := postgres.NewPostgresRunStore(ctx, postgres.PostgresOptions{ConnString: c.DSN, TableName: c.Table})
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, close: func() error { s.Close(); return nil }}, nil
	case DriverRedis:
		s := redisstore.NewRedisRunStore(redisstore.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.Redis.TTL,
		})
		b := &Backend{Store: s, close: s.Close}
		if c.Redis.Lock {
			b.Locker = redisstore.NewLocker(s.Client(), c.Redis.Prefix)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

// CompileOptions turns the runner settings into graph options.
func (c *Config) CompileOptions(b *Backend, logger log.Logger) ([]graph.CompileOption, error) {
	mode, err := graph.ParseConcurrencyMode(c.Runner.Concurrency)
	if err != nil {
		return nil, err
	}
	opts := []graph.CompileOption{
		graph.WithStore(b.Store),
		graph.WithMaxSteps(c.Runner.MaxSteps),
		graph.WithStepTimeout(c.Runner.StepTimeout),
		graph.WithConcurrency(mode),
		graph.WithLogger(logger),
	}
	if c.Runner.LockTTL > 0 {
		opts = append(opts, graph.WithLockTTL(c.Runner.LockTTL))
	}
	if b.Locker != nil {
		opts = append(opts, graph.WithLocker(b.Locker))
	}
	return opts, nil
}

// OpenModel creates the language model client.
func (c LLMConfig) OpenModel() (*openai.LLM, error) {
	key, err := c.APIKey()
	if err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithAPIKey(key),
		openai.WithDefaultCallOptions(llms.WithTemperature(c.Temperature)),
	}
	if c.Model != "" {
		opts = append(opts, openai.WithModel(c.Model))
	}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	return openai.New(opts...)
}
