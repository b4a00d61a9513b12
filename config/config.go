// Package config loads the YAML configuration of the stepgraph command.
//
//	log:
//	  level: debug
//	store:
//	  driver: sqlite
//	  path: runs.db
//	runner:
//	  max_steps: 50
//	  step_timeout: 2m
//	  concurrency: reject
//	llm:
//	  base_url: https://open.bigmodel.cn/api/paas/v4/
//	  model: glm-4-flash
//	  api_key_env: ZHIPU_API_KEY
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/openai"
	"github.com/smallnest/stepgraph/log"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root of the configuration file.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Runner RunnerConfig `yaml:"runner"`
	LLM    LLMConfig    `yaml:"llm"`
	Search SearchConfig `yaml:"search"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig selects where runs are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the directory of the file driver or the database of sqlite.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN   string      `yaml:"dsn"`
	Table string      `yaml:"table"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	// Lock enables the distributed per-run lock.
	Lock bool `yaml:"lock"`
}

// RunnerConfig holds the limits applied to every run.
type RunnerConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	Concurrency string        `yaml:"concurrency"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// LLMConfig points at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig configures web search.
type SearchConfig struct {
	BraveAPIKeyEnv string `yaml:"brave_api_key_env"`
	Count          int    `yaml:"count"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Store: StoreConfig{Driver: DriverFile, Path: ".stepgraph/runs"},
		Runner: RunnerConfig{
			MaxSteps:    25,
			StepTimeout: 2 * time.Minute,
			Concurrency: graph.ConcurrencyBlock.String(),
			LockTTL:     30 * time.Second,
		},
		LLM: LLMConfig{
			Model:     openai.DefaultModel,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Search: SearchConfig{BraveAPIKeyEnv: "BRAVE_API_KEY", Count: 5},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var problems []string
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSqlite:
		if c.Store.Path == "" {
			problems = append(problems, fmt.Sprintf("store.path is required for the %s driver", c.Store.Driver))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			problems = append(problems, "store.redis.addr is required for the redis driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Redis.Lock && c.Store.Driver != DriverRedis {
		problems = append(problems, "store.redis.lock needs the redis driver")
	}

	if c.Runner.MaxSteps < 0 {
		problems = append(problems, "runner.max_steps must not be negative")
	}
	if c.Runner.StepTimeout < 0 {
		problems = append(problems, "runner.step_timeout must not be negative")
	}
	if _, err := graph.ParseConcurrencyMode(c.Runner.Concurrency); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be between 0 and 2")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ErrNoAPIKey is returned when the configured key variable is unset.
var ErrNoAPIKey = errors.New("api key not set")

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() (string, error) {
	env := c.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAPIKey, env)
	}
	return key, nil
}

// Logger builds a golog-backed logger at the configured level.
func (c LogConfig) Logger() log.Logger {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.LogLevelInfo
	}
	l := log.NewGologLogger(golog.New())
	l.SetLevel(level)
	return l
}
