// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Decoder metrics
	DecodeFallbacks *prometheus.CounterVec

	// Parser metrics
	EventsParsed  *prometheus.CounterVec
	EventsSkipped prometheus.Counter

	// Projector metrics
	EventsApplied      *prometheus.CounterVec
	EventsDeduplicated prometheus.Counter
	MalformedEvents    prometheus.Counter
	IntegrityAnomalies *prometheus.CounterVec

	// Ingestion metrics
	OrderingBufferSize prometheus.Gauge
	HighestLedgerSeen  prometheus.Gauge

	// Fanout metrics
	NotificationsPublished prometheus.Counter
	NotificationsDropped   prometheus.Counter
	SubscribersActive      prometheus.Gauge

	// Maintenance metrics
	MaintenanceRuns   *prometheus.CounterVec
	SnapshotsCreated  prometheus.Counter
	EntriesArchived   prometheus.Counter
	StreamsCompleted  prometheus.Counter

	// Verification metrics
	HashesVerified   prometheus.Counter
	HashMismatches   prometheus.Counter
	HashFetchSkipped prometheus.Counter

	// Latency metrics
	EventApplyLatency prometheus.Histogram
	RPCCallLatency    *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stream_indexer"
	}

	return &Metrics{
		DecodeFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "decode_fallbacks_total",
			Help:      "Total number of values that degraded to the raw fallback by reason",
		}, []string{"reason"}),

		EventsParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "parsed_total",
			Help:      "Total number of events parsed by kind",
		}, []string{"kind"}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "skipped_total",
			Help:      "Total number of feed events skipped as unrecognized",
		}),

		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "events_applied_total",
			Help:      "Total number of events applied to stream state by kind",
		}, []string{"kind"}),
		EventsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "events_deduplicated_total",
			Help:      "Total number of redelivered events dropped by tx hash",
		}),
		MalformedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "malformed_events_total",
			Help:      "Total number of events rejected as malformed",
		}),
		IntegrityAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "integrity_anomalies_total",
			Help:      "Total number of integrity anomalies observed by type",
		}, []string{"anomaly"}),

		OrderingBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ordering_buffer_size",
			Help:      "Number of ledgers currently held in the ordering buffer",
		}),
		HighestLedgerSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_ledger_seen",
			Help:      "Highest ledger sequence observed on the feed",
		}),

		NotificationsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "notifications_published_total",
			Help:      "Total number of notifications delivered to subscribers",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "notifications_dropped_total",
			Help:      "Total number of notifications dropped on slow subscribers",
		}),
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers_active",
			Help:      "Number of currently registered subscribers",
		}),

		MaintenanceRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Total number of maintenance runs by status",
		}, []string{"status"}),
		SnapshotsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "snapshots_created_total",
			Help:      "Total number of monthly snapshots written",
		}),
		EntriesArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "entries_archived_total",
			Help:      "Total number of audit entries moved to cold storage",
		}),
		StreamsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "streams_completed_total",
			Help:      "Total number of expired streams swept to COMPLETED",
		}),

		HashesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "hashes_verified_total",
			Help:      "Total number of ledger hashes compared against the source",
		}),
		HashMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "hash_mismatches_total",
			Help:      "Total number of ledger hash mismatches detected",
		}),
		HashFetchSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "hash_fetch_skipped_total",
			Help:      "Total number of sequences skipped because the source fetch failed",
		}),

		EventApplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "apply_duration_seconds",
			Help:      "Time taken to apply one event end to end",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Ledger RPC call latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency by database and operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors by database and operation",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordDecodeFallback increments the decode fallback counter.
func RecordDecodeFallback(reason string) {
	DefaultMetrics.DecodeFallbacks.WithLabelValues(reason).Inc()
}

// RecordEventParsed increments the parsed counter for a kind.
func RecordEventParsed(kind string) {
	DefaultMetrics.EventsParsed.WithLabelValues(kind).Inc()
}

// RecordEventSkipped increments the skipped feed event counter.
func RecordEventSkipped() {
	DefaultMetrics.EventsSkipped.Inc()
}

// RecordEventApplied increments the applied counter for a kind and
// observes the apply latency.
func RecordEventApplied(kind string, seconds float64) {
	DefaultMetrics.EventsApplied.WithLabelValues(kind).Inc()
	DefaultMetrics.EventApplyLatency.Observe(seconds)
}

// RecordEventDeduplicated increments the redelivery dedupe counter.
func RecordEventDeduplicated() {
	DefaultMetrics.EventsDeduplicated.Inc()
}

// RecordMalformedEvent increments the malformed event counter.
func RecordMalformedEvent() {
	DefaultMetrics.MalformedEvents.Inc()
}

// RecordIntegrityAnomaly increments the anomaly counter for a type.
func RecordIntegrityAnomaly(anomaly string) {
	DefaultMetrics.IntegrityAnomalies.WithLabelValues(anomaly).Inc()
}

// UpdateOrderingBuffer updates the ordering buffer gauge.
func UpdateOrderingBuffer(ledgers int) {
	DefaultMetrics.OrderingBufferSize.Set(float64(ledgers))
}

// UpdateHighestLedger updates the highest ledger seen gauge.
func UpdateHighestLedger(seq int64) {
	DefaultMetrics.HighestLedgerSeen.Set(float64(seq))
}

// RecordNotificationPublished increments the fanout published counter.
func RecordNotificationPublished() {
	DefaultMetrics.NotificationsPublished.Inc()
}

// RecordNotificationDropped increments the fanout dropped counter.
func RecordNotificationDropped() {
	DefaultMetrics.NotificationsDropped.Inc()
}

// UpdateSubscriberCount updates the active subscriber gauge.
func UpdateSubscriberCount(n int) {
	DefaultMetrics.SubscribersActive.Set(float64(n))
}

// RecordMaintenanceRun records one maintenance run and its results.
func RecordMaintenanceRun(status string, snapshots, archived int64) {
	DefaultMetrics.MaintenanceRuns.WithLabelValues(status).Inc()
	DefaultMetrics.SnapshotsCreated.Add(float64(snapshots))
	DefaultMetrics.EntriesArchived.Add(float64(archived))
}

// RecordStreamsCompleted adds to the stale sweep counter.
func RecordStreamsCompleted(n int64) {
	DefaultMetrics.StreamsCompleted.Add(float64(n))
}

// RecordHashVerified increments the verified counter.
func RecordHashVerified() {
	DefaultMetrics.HashesVerified.Inc()
}

// RecordHashMismatch increments the mismatch counter.
func RecordHashMismatch() {
	DefaultMetrics.HashMismatches.Inc()
}

// RecordHashFetchSkipped increments the skipped fetch counter.
func RecordHashFetchSkipped() {
	DefaultMetrics.HashFetchSkipped.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
