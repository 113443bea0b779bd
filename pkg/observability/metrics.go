package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RedirectsTotal tracks resolved redirects by outcome
	RedirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_redirects_total",
			Help: "Total redirect resolutions by outcome",
		},
		[]string{"outcome"}, // outcome: hit, negative_hit, db_hit, not_found, stale, unavailable, invalid
	)

	// CacheOperations tracks link cache round trips
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_cache_operations_total",
			Help: "Total link cache operations",
		},
		[]string{"operation", "result"}, // operation: get, get_stale, set, negative_get, negative_set; result: hit, miss, ok, error
	)

	// NegativeCacheHits counts lookups short-circuited by a not-found marker
	NegativeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkhop_negative_cache_hits_total",
			Help: "Lookups short-circuited by a negative cache marker",
		},
	)

	// DBLookupDuration measures link lookup latency against PostgreSQL
	DBLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkhop_db_lookup_duration_seconds",
			Help:    "Link lookup latency against PostgreSQL",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
	)

	// ClickEvents tracks click event production by result
	ClickEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_click_events_total",
			Help: "Total click events produced",
		},
		[]string{"result"}, // result: enqueued, dropped, failed
	)

	// DispatcherDepth tracks queued submissions in the event dispatcher
	DispatcherDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkhop_dispatcher_depth",
			Help: "Click submissions waiting in the dispatcher",
		},
	)

	// BatchFlushes tracks accumulator flushes by trigger and status
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_batch_flushes_total",
			Help: "Total accumulator flushes",
		},
		[]string{"trigger", "status"}, // trigger: size, timeout, shutdown, manual; status: success, error
	)

	// BatchFlushSize measures how many records each flush carried
	BatchFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkhop_batch_flush_size",
			Help:    "Records per accumulator flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to ~4096
		},
	)

	// ClicksPersisted counts click rows actually written
	ClicksPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkhop_clicks_persisted_total",
			Help: "Click event rows written to PostgreSQL",
		},
	)

	// RollupJobs tracks aggregation jobs by type and status
	RollupJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_rollup_jobs_total",
			Help: "Total aggregation jobs",
		},
		[]string{"type", "status"}, // status: success, failed, enqueued, skipped
	)

	// RollupDuration measures aggregation job execution time
	RollupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkhop_rollup_duration_seconds",
			Help:    "Aggregation job execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"type"},
	)

	// BotDetections tracks positive bot classifications by reason
	BotDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_bot_detections_total",
			Help: "Total positive bot classifications",
		},
		[]string{"reason"}, // reason: missing_ua, signature, frequency, heuristic, reputation
	)

	// FrequencyChecks tracks sliding-window checks by backend and result
	FrequencyChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_frequency_checks_total",
			Help: "Total frequency tracker checks",
		},
		[]string{"source", "result"}, // source: redis, fallback; result: ok, flagged
	)

	// ReputationHits counts reputation filter matches
	ReputationHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkhop_reputation_hits_total",
			Help: "Identities matched by the reputation filter",
		},
	)

	// SchedulerLeader indicates whether this instance schedules rollups
	SchedulerLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkhop_scheduler_leader",
			Help: "Whether this instance holds the rollup scheduler lease (1=leader)",
		},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhop_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordRedirect records a redirect resolution outcome
func RecordRedirect(outcome string) {
	RedirectsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheOperation records a link cache round trip
func RecordCacheOperation(operation, result string) {
	CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordClickEvent records a click event production result
func RecordClickEvent(result string) {
	ClickEvents.WithLabelValues(result).Inc()
}

// RecordBatchFlush records an accumulator flush
func RecordBatchFlush(trigger, status string, size float64) {
	BatchFlushes.WithLabelValues(trigger, status).Inc()
	BatchFlushSize.Observe(size)
}

// RecordRollupJob records an aggregation job result
func RecordRollupJob(jobType, status string, duration float64) {
	RollupJobs.WithLabelValues(jobType, status).Inc()

	if status == "success" || status == "failed" {
		RollupDuration.WithLabelValues(jobType).Observe(duration)
	}
}

// RecordBotDetection records a positive bot classification
func RecordBotDetection(reason string) {
	BotDetections.WithLabelValues(reason).Inc()
}

// RecordFrequencyCheck records a frequency tracker check
func RecordFrequencyCheck(source string, flagged bool) {
	result := "ok"
	if flagged {
		result = "flagged"
	}

	FrequencyChecks.WithLabelValues(source, result).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
