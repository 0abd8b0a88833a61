package plugin

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/recallmesh/core"
)

// MetricsOptions configures NewMetricsPlugin.
type MetricsOptions struct {
	Namespace string
	// Registry receives the collectors. A private registry is created when
	// nil.
	Registry *prometheus.Registry
}

// MetricsPlugin exports Prometheus counters for runs, agent, model and tool
// invocations.
type MetricsPlugin struct {
	Base

	registry   *prometheus.Registry
	runs       *prometheus.CounterVec
	agentRuns  *prometheus.CounterVec
	modelCalls *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewMetricsPlugin creates the collectors and registers them.
func NewMetricsPlugin(optFns ...func(o *MetricsOptions)) *MetricsPlugin {
	opts := MetricsOptions{Namespace: "recallmesh"}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	m := &MetricsPlugin{
		Base:     NewBase("metrics"),
		registry: opts.Registry,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "runs_total",
				Help:      "Total runs by status.",
			},
			[]string{"status"},
		),
		agentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "agent_runs_total",
				Help:      "Total agent invocations by agent, type and status.",
			},
			[]string{"agent", "type", "status"},
		),
		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "model_calls_total",
				Help:      "Total model calls by agent, model and status.",
			},
			[]string{"agent", "model", "status"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "tool_calls_total",
				Help:      "Total tool calls by tool and status.",
			},
			[]string{"tool", "status"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "events_total",
				Help:      "Total persisted events by author.",
			},
			[]string{"author"},
		),
	}

	m.registry.MustRegister(m.runs, m.agentRuns, m.modelCalls, m.toolCalls, m.events)

	return m
}

// Registry returns the registry holding the collectors.
func (m *MetricsPlugin) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsPlugin) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

func (m *MetricsPlugin) AfterRun(_ *core.RunContext, runErr error) {
	m.runs.WithLabelValues(status(runErr)).Inc()
}

func (m *MetricsPlugin) AfterAgent(_ *core.RunContext, agent core.AgentInfo, err error) {
	m.agentRuns.WithLabelValues(agent.Name, agent.Type, status(err)).Inc()
}

func (m *MetricsPlugin) AfterModel(_ *core.RunContext, call core.ModelCall, err error) {
	m.modelCalls.WithLabelValues(call.Agent, call.Model, status(err)).Inc()
}

func (m *MetricsPlugin) AfterTool(_ *core.ToolContext, call core.FunctionCall, _ any, err error) {
	m.toolCalls.WithLabelValues(call.Name, status(err)).Inc()
}

func (m *MetricsPlugin) OnEvent(_ *core.RunContext, ev core.Event) {
	if ev.IsPartial() {
		return
	}

	m.events.WithLabelValues(ev.Author).Inc()
}
