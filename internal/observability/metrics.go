package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for agent42.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Turn loop metrics.
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	TurnRounds       prometheus.Histogram
	CompactionsTotal *prometheus.CounterVec
	LoopsDetected    prometheus.Counter

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// HTTP ops server metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total streaming model requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Time from request to end of stream in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total model tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total turns by outcome.",
		}, []string{"status"}),

		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900},
		}),

		TurnRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "agent",
			Name:      "turn_rounds",
			Help:      "Model rounds per turn.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),

		CompactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "context",
			Name:      "compactions_total",
			Help:      "Context manager interventions by action.",
		}, []string{"action"}),

		LoopsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "agent",
			Name:      "loops_detected_total",
			Help:      "Repeating tool call patterns detected.",
		}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent42",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent42",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agent42",
			Name:      "active_requests",
			Help:      "Number of in-flight ops server requests.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnRounds,
		m.CompactionsTotal,
		m.LoopsDetected,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordTurn records a finished turn. Safe on a nil collector.
func (m *MetricsCollector) RecordTurn(status string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnRounds.Observe(float64(rounds))
	m.TurnDuration.Observe(d.Seconds())
}

// RecordCompaction records a context manager action. Safe on a nil collector.
func (m *MetricsCollector) RecordCompaction(action string) {
	if m == nil {
		return
	}
	m.CompactionsTotal.WithLabelValues(action).Inc()
}

// RecordLoop records a detected tool call loop. Safe on a nil collector.
func (m *MetricsCollector) RecordLoop() {
	if m == nil {
		return
	}
	m.LoopsDetected.Inc()
}
