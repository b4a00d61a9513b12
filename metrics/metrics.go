// Package metrics exports run activity as Prometheus metrics.
//
// Hook is a graph.TraceHook; attach it through a tracer:
//
//	reg := prometheus.NewRegistry()
//	m, _ := metrics.New(reg, "triage")
//	runner, _ := g.Compile(graph.WithTracer(graph.NewTracer(m)))
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smallnest/stepgraph/graph"
)

// Hook records step counts, step latency, interrupts and run outcomes.
type Hook struct {
	graphName string

	steps      *prometheus.CounterVec
	stepErrors *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	interrupts *prometheus.CounterVec
	runs       *prometheus.CounterVec
	inflight   prometheus.Gauge
}

// New creates a Hook for graphName and registers its collectors with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer, graphName string) (*Hook, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"graph": graphName}

	h := &Hook{
		graphName: graphName,
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stepgraph_steps_total",
			Help:        "Steps completed, by step name.",
			ConstLabels: labels,
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stepgraph_step_errors_total",
			Help:        "Step executions that returned an error.",
			ConstLabels: labels,
		}, []string{"step"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "stepgraph_step_duration_seconds",
			Help:        "Duration of step executions.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"step"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stepgraph_interrupts_total",
			Help:        "Runs suspended, by step name.",
			ConstLabels: labels,
		}, []string{"step"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stepgraph_run_calls_total",
			Help:        "Invoke and resume calls, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "stepgraph_inflight_runs",
			Help:        "Run calls currently executing steps.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{h.steps, h.stepErrors, h.latency, h.interrupts, h.runs, h.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// OnEvent implements graph.TraceHook.
func (h *Hook) OnEvent(_ context.Context, span *graph.TraceSpan) {
	switch span.Event {
	case graph.TraceEventRunStart:
		h.inflight.Inc()
	case graph.TraceEventRunEnd:
		h.inflight.Dec()
		h.runs.WithLabelValues(outcome(span.Error)).Inc()
	case graph.TraceEventNodeEnd:
		h.steps.WithLabelValues(span.NodeName).Inc()
		h.latency.WithLabelValues(span.NodeName).Observe(span.Duration.Seconds())
	case graph.TraceEventNodeError:
		h.stepErrors.WithLabelValues(span.NodeName).Inc()
		h.latency.WithLabelValues(span.NodeName).Observe(span.Duration.Seconds())
	case graph.TraceEventInterrupt:
		h.interrupts.WithLabelValues(span.NodeName).Inc()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, graph.ErrStepBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, graph.ErrRouting):
		return "routing_error"
	case errors.Is(err, graph.ErrContract):
		return "contract_error"
	case errors.Is(err, graph.ErrStepTimeout):
		return "timeout"
	default:
		return "error"
	}
}
