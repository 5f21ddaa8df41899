package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics. Create once at startup;
// the collectors register with the default registry and surface at /metrics.
type Metrics struct {
	// EventsAppended counts thread events by type.
	EventsAppended *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests by outcome.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption. Labels: provider, model,
	// type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool invocations by terminal status.
	// Labels: tool, status (completed|failed|aborted)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalDecisions counts approval outcomes.
	// Labels: decision (allow-once|allow-session|deny)
	ApprovalDecisions *prometheus.CounterVec

	// Compactions counts compaction runs by strategy.
	Compactions *prometheus.CounterVec

	// ActiveAgents gauges live agents per session.
	ActiveAgents prometheus.Gauge

	// SSEClients gauges connected stream subscribers.
	SSEClients prometheus.Gauge
}

// NewMetrics creates and registers all collectors. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_thread_events_total",
				Help: "Thread events appended, by event type.",
			},
			[]string{"type"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lace_provider_request_duration_seconds",
				Help:    "Model provider request latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_provider_requests_total",
				Help: "Model provider requests, by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_tokens_total",
				Help: "Tokens consumed, by direction.",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_tool_executions_total",
				Help: "Tool executions, by terminal status.",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lace_tool_execution_duration_seconds",
				Help:    "Tool execution time.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ApprovalDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_approval_decisions_total",
				Help: "Tool approval outcomes.",
			},
			[]string{"decision"},
		),
		Compactions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_compactions_total",
				Help: "Compaction runs, by strategy.",
			},
			[]string{"strategy"},
		),
		ActiveAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lace_active_agents",
				Help: "Live agents in this process.",
			},
		),
		SSEClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lace_sse_clients",
				Help: "Connected event stream subscribers.",
			},
		),
	}
}

// ObserveBus exposes the event bus's internal publish and drop counters. The
// bus keeps its own atomics; the collectors read them on scrape.
func (m *Metrics) ObserveBus(stats func() (published, dropped uint64)) {
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "lace_bus_events_published_total",
			Help: "Events published on the in-process bus.",
		},
		func() float64 { published, _ := stats(); return float64(published) },
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "lace_bus_events_dropped_total",
			Help: "Bus events dropped on full subscriber buffers.",
		},
		func() float64 { _, dropped := stats(); return float64(dropped) },
	)
}
