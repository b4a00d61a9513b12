package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallnest/stepgraph/config"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/metrics"
	"github.com/smallnest/stepgraph/tool"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  log.Logger
	backend *config.Backend

	configPath  string
	logLevel    string
	metricsFile string
	registry    *prometheus.Registry

	// newModel and newSearcher are replaced in tests.
	newModel    func(config.LLMConfig) (llms.Model, error)
	newSearcher func(config.SearchConfig) (tool.Searcher, error)
}

func newApp() *app {
	return &app{
		newModel: func(c config.LLMConfig) (llms.Model, error) {
			return c.OpenModel()
		},
		newSearcher: braveSearcher,
	}
}

// braveSearcher returns nil without error when no Brave key is configured.
func braveSearcher(c config.SearchConfig) (tool.Searcher, error) {
	key := os.Getenv(c.BraveAPIKeyEnv)
	if key == "" {
		return nil, nil
	}
	return tool.NewBraveSearch(key, tool.WithBraveCount(c.Count))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "stepgraph",
		Short:         "Run and manage durable agent graphs",
		Long:          `stepgraph runs the bundled email triage, document QA, finance, calculator and SQL graphs, persisting every step so suspended runs can be resumed later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when the command ends")

	root.AddCommand(newEmailCmd(a), newRunsCmd(a), newGraphCmd(a), newDocQACmd(a), newFinanceCmd(a), newCalcCmd(a), newSQLCmd(a))
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = cfg.Log.Logger()
	log.SetDefaultLogger(a.logger)

	a.backend, err = cfg.Store.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	a.registry = prometheus.NewRegistry()
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}

// compile builds a runner over the configured store. Extra hooks are added
// to the tracer after logging and metrics.
func (a *app) compile(g *graph.StateGraph, hooks ...graph.TraceHook) (*graph.Runnable, error) {
	opts, err := a.cfg.CompileOptions(a.backend, a.logger)
	if err != nil {
		return nil, err
	}

	tracer := graph.NewTracer(graph.LoggingHook(log.WithPrefix(a.logger, g.Name())))
	m, err := metrics.New(a.registry, g.Name())
	if err != nil {
		return nil, err
	}
	tracer.AddHook(m)
	for _, h := range hooks {
		tracer.AddHook(h)
	}
	opts = append(opts, graph.WithTracer(tracer))
	return g.Compile(opts...)
}

func (a *app) model() (llms.Model, error) {
	m, err := a.newModel(a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return m, nil
}

func (a *app) searcher() (tool.Searcher, error) {
	s, err := a.newSearcher(a.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}
	return s, nil
}
