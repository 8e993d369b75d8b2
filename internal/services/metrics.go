package services

import (
	"lifeline/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the coordination core. It also
// satisfies the recovery engine's MetricsRecorder so exhaustion and bypass
// events show up on dashboards.
type Metrics struct {
	WebSocketConnections prometheus.Gauge
	Messages             *prometheus.CounterVec
	RecoveryAttempts     *prometheus.CounterVec
	EmergencyBypasses    *prometheus.CounterVec
	EscalationsTotal     prometheus.Counter
	MatchDuration        prometheus.Histogram
}

// InitMetrics registers the metrics. The registry-backed gauges read the
// counter snapshot, so Prometheus and the monitoring push see one truth.
func InitMetrics(reg *registry.Registry) *Metrics {
	m := &Metrics{
		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),
		Messages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_messages_total",
			Help: "Total number of WebSocket events by type",
		}, []string{"type", "direction"}),
		RecoveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_recovery_attempts_total",
			Help: "Recovery engine attempts by tier, strategy, and outcome",
		}, []string{"tier", "strategy", "outcome"}),
		EmergencyBypasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_emergency_bypass_total",
			Help: "Operations degraded to the emergency bypass payload",
		}, []string{"operation_type"}),
		EscalationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_escalations_total",
			Help: "Total number of session escalations",
		}),
		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_match_duration_seconds",
			Help:    "Volunteer matching latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	reg.SetResponseTimeObserver(func(ms float64) {
		m.RecordMatchDuration(ms / 1000.0)
	})

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lifeline_sessions_active",
			Help: "Active crisis sessions",
		},
		func() float64 { return float64(reg.Snapshot().ActiveSessions) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lifeline_volunteers_online",
			Help: "Volunteers currently online",
		},
		func() float64 { return float64(reg.Snapshot().VolunteersOnline) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lifeline_professionals_online",
			Help: "Professionals currently online",
		},
		func() float64 { return float64(reg.Snapshot().ProfessionalsOnline) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lifeline_sessions_critical",
			Help: "Sessions currently at critical severity",
		},
		func() float64 { return float64(reg.Snapshot().CriticalSessions) },
	))

	return m
}

// RecordWebSocketConnect records a new WebSocket connection.
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection.
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordMessage records an inbound or outbound event by type.
func (m *Metrics) RecordMessage(msgType, direction string) {
	m.Messages.WithLabelValues(msgType, direction).Inc()
}

// RecordRecoveryAttempt implements recovery.MetricsRecorder.
func (m *Metrics) RecordRecoveryAttempt(tier, strategy string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RecoveryAttempts.WithLabelValues(tier, strategy, outcome).Inc()
}

// RecordEmergencyBypass implements recovery.MetricsRecorder.
func (m *Metrics) RecordEmergencyBypass(operationType string) {
	m.EmergencyBypasses.WithLabelValues(operationType).Inc()
}

// RecordEscalation records one session escalation.
func (m *Metrics) RecordEscalation() {
	m.EscalationsTotal.Inc()
}

// RecordMatchDuration records volunteer matching latency.
func (m *Metrics) RecordMatchDuration(seconds float64) {
	m.MatchDuration.Observe(seconds)
}
