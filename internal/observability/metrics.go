package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	gateDecisionsTotal     *prometheus.CounterVec
	auditEventsTotal       *prometheus.CounterVec
	auditWriteFailures     prometheus.Counter
	dualAuthDecisionsTotal *prometheus.CounterVec
	cryptoFailuresTotal    *prometheus.CounterVec
	reportSubmissionsTotal *prometheus.CounterVec
	requestLatencySeconds  *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used for compliance observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_gate_decisions_total",
			Help: "Access gate outcomes partitioned by decision and consent status.",
		}, []string{"decision", "consent_status"})

		auditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events appended, partitioned by event type.",
		}, []string{"event_type"})

		auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit append failures. Any increase is a security incident.",
		})

		dualAuthDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_decisions_total",
			Help: "Dual-authorization request outcomes.",
		}, []string{"urgency", "outcome"})

		cryptoFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypto_failures_total",
			Help: "Cryptographic failures, partitioned by operation.",
		}, []string{"operation"})

		reportSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_submissions_total",
			Help: "Mandatory report submission attempts by outcome.",
		}, []string{"urgency", "outcome"})

		requestLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compliance_request_latency_seconds",
			Help:    "Latency distribution for compliance API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			gateDecisionsTotal,
			auditEventsTotal,
			auditWriteFailures,
			dualAuthDecisionsTotal,
			cryptoFailuresTotal,
			reportSubmissionsTotal,
			requestLatencySeconds,
		)
	})
}

// GateDecisions exposes the access gate outcome counter.
func GateDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return gateDecisionsTotal
}

// AuditEvents exposes the audit append counter.
func AuditEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return auditEventsTotal
}

// AuditWriteFailures exposes the audit failure counter.
func AuditWriteFailures() prometheus.Counter {
	RegisterMetrics()
	return auditWriteFailures
}

// DualAuthDecisions exposes the dual-authorization outcome counter.
func DualAuthDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return dualAuthDecisionsTotal
}

// CryptoFailures exposes the cryptographic failure counter.
func CryptoFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return cryptoFailuresTotal
}

// ReportSubmissions exposes the report submission counter.
func ReportSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return reportSubmissionsTotal
}

// RequestLatency exposes the latency histogram for compliance requests.
func RequestLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return requestLatencySeconds
}
