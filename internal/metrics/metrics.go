package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	EngineRunsTotal    *prometheus.CounterVec
	EngineRunDuration  *prometheus.HistogramVec
	ProviderCallsTotal *prometheus.CounterVec

	// Tool metrics
	ToolDispatchesTotal  *prometheus.CounterVec
	ToolDispatchDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	TokensUsedTotal prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		EngineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_runs_total",
				Help: "Total number of engine runs by terminal status",
			},
			[]string{"agent_id", "status"},
		),
		EngineRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_run_duration_seconds",
				Help:    "Duration of engine runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_id"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of model-backend calls",
			},
			[]string{"provider", "finish_reason"},
		),

		ToolDispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_dispatches_total",
				Help: "Total number of tool dispatches by decision",
			},
			[]string{"tool_name", "decision"},
		),
		ToolDispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_dispatch_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of sessions currently running",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of sessions created",
			},
		),
		TokensUsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokens_used_total",
				Help: "Total number of model tokens consumed",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.EngineRunsTotal)
	m.registry.MustRegister(m.EngineRunDuration)
	m.registry.MustRegister(m.ProviderCallsTotal)

	m.registry.MustRegister(m.ToolDispatchesTotal)
	m.registry.MustRegister(m.ToolDispatchDuration)

	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.TokensUsedTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
