package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent gateway.
// Methods are nil-safe so sessions can run uninstrumented (tests, embedded
// SDK use).
type Metrics struct {
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge

	EventsReceived *prometheus.CounterVec

	ToolCalls             *prometheus.CounterVec
	VerificationFailures  prometheus.Counter
	EscalationSuggestions prometheus.Counter
	TransfersInitiated    prometheus.Counter

	BackendDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all gateway metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_started_total",
			Help: "Total number of voice agent sessions started",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Current number of active voice agent sessions",
		}),
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_realtime_events_received_total",
			Help: "Total number of inbound realtime events by type",
		}, []string{"type"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_tool_calls_total",
			Help: "Total number of tool invocations by tool name and outcome",
		}, []string{"tool", "outcome"}),
		VerificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_verification_failures_total",
			Help: "Total number of failed customer verification attempts",
		}),
		EscalationSuggestions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_escalation_suggestions_total",
			Help: "Total number of times escalation was suggested after repeated verification failures",
		}),
		TransfersInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transfers_initiated_total",
			Help: "Total number of human-agent transfers initiated",
		}),
		BackendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_backend_call_duration_seconds",
			Help:    "Duration of backend API calls made from tool dispatch",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// RecordSessionStarted increments session counters.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded decrements the active session gauge.
func (m *Metrics) RecordSessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordEvent counts one inbound realtime event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordToolCall counts one tool invocation outcome.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordVerificationFailure counts one failed verification attempt.
func (m *Metrics) RecordVerificationFailure() {
	if m == nil {
		return
	}
	m.VerificationFailures.Inc()
}

// RecordEscalationSuggested counts one escalation suggestion.
func (m *Metrics) RecordEscalationSuggested() {
	if m == nil {
		return
	}
	m.EscalationSuggestions.Inc()
}

// RecordTransferInitiated counts one human-agent transfer.
func (m *Metrics) RecordTransferInitiated() {
	if m == nil {
		return
	}
	m.TransfersInitiated.Inc()
}

// ObserveBackendCall records the latency of one backend round trip.
func (m *Metrics) ObserveBackendCall(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(endpoint).Observe(seconds)
}
