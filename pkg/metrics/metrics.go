// Package metrics declares the Prometheus collectors the pipeline
// increments, following the teacher's pattern of package-level
// collectors registered once at init and incremented by domain code
// (see pkg/ratelimit's metrics.RateLimitHitsTotal in the reference
// corpus).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_ingested_total",
		Help: "Audit events accepted by the producer, labeled by organization.",
	}, []string{"organization_id"})

	ValidationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_validation_failures_total",
		Help: "Validation failures encountered by the validator/sanitizer.",
	}, []string{"stage"})

	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_retries_total",
		Help: "Retry attempts issued by the reliable processor.",
	}, []string{"queue"})

	DLQParksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_dlq_parks_total",
		Help: "Jobs moved to the dead-letter queue.",
	}, []string{"queue", "reason"})

	IntegrityFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_integrity_failures_total",
		Help: "Records that failed hash or signature verification.",
	}, []string{"organization_id"})

	ReportExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_report_executions_total",
		Help: "Scheduled and on-demand report executions.",
	}, []string{"report_type", "status"})

	PseudonymizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_pseudonymizations_total",
		Help: "Pseudonym mappings created, labeled by strategy.",
	}, []string{"strategy"})

	DuplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_duplicates_total",
		Help: "Events absorbed as duplicates at the storage uniqueness constraint.",
	}, []string{"organization_id"})

	CircuitBreakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audit_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"breaker"})

	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audit_queue_depth",
		Help: "Approximate depth of the broker queue.",
	}, []string{"queue"})

	DatabaseConnectionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audit_database_connections",
		Help: "Database connection pool usage.",
	}, []string{"state"})

	AlertsActiveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audit_alerts_active",
		Help: "Currently active alerts by severity.",
	}, []string{"severity"})
)

func init() {
	prometheus.MustRegister(
		EventsIngestedTotal,
		ValidationFailuresTotal,
		RetriesTotal,
		DLQParksTotal,
		IntegrityFailuresTotal,
		ReportExecutionsTotal,
		PseudonymizationsTotal,
		DuplicatesTotal,
		CircuitBreakerStateGauge,
		QueueDepthGauge,
		DatabaseConnectionsGauge,
		AlertsActiveGauge,
	)
}
