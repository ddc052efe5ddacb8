// Package observability provides logging and metrics helpers shared by the
// command executor and audit projector services.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CommandsProcessedTotal counts processed commands by entity, action, and outcome.
	CommandsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdata_commands_processed_total",
			Help: "Total number of commands processed by the executor",
		},
		[]string{"entity", "action", "outcome"},
	)
	// DLQRoutedTotal counts messages routed to a dead-letter topic.
	DLQRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdata_dlq_routed_total",
			Help: "Total number of messages routed to a dead-letter topic",
		},
		[]string{"source_topic"},
	)
	// HydrationDuration records the wall-clock duration of a hydration run.
	HydrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refdata_hydration_duration_seconds",
			Help:    "Duration of a VersionStore hydration run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	// HydratedEntities is a gauge of UUIDs currently held in the VersionStore.
	HydratedEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refdata_hydrated_entities",
			Help: "Number of UUIDs currently tracked by the VersionStore",
		},
		[]string{"entity"},
	)
	// AuditInsertDuration records the latency of audit store bulk inserts.
	AuditInsertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refdata_audit_insert_duration_seconds",
			Help:    "Duration of audit store bulk insert attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "outcome"},
	)
	// AuditBackoffAttempts counts insert attempts made against the audit store per entity, the first attempt included.
	AuditBackoffAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdata_audit_backoff_attempts_total",
			Help: "Total number of audit store insert attempts, including retries",
		},
		[]string{"entity"},
	)
	// ResponsesPublishedTotal counts command response publications by outcome.
	ResponsesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdata_responses_published_total",
			Help: "Total number of command responses published to the messaging bus",
		},
		[]string{"outcome"},
	)
)

// InitMetrics registers all package metrics with the default Prometheus registry.
// Safe to call once per process; calling it twice panics, matching
// prometheus.MustRegister's usual semantics.
func InitMetrics() {
	prometheus.MustRegister(CommandsProcessedTotal)
	prometheus.MustRegister(DLQRoutedTotal)
	prometheus.MustRegister(HydrationDuration)
	prometheus.MustRegister(HydratedEntities)
	prometheus.MustRegister(AuditInsertDuration)
	prometheus.MustRegister(AuditBackoffAttempts)
	prometheus.MustRegister(ResponsesPublishedTotal)
}
