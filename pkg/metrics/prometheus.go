// Package metrics provides Prometheus metrics for the MindLab play service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the MindLab service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Sync Metrics - offline batches reaching the server
	syncBatches         *prometheus.CounterVec
	eventsSynced        prometheus.Counter
	eventsDuplicate     prometheus.Counter
	syncBatchSize       prometheus.Histogram
	syncLatency         prometheus.Histogram
	scoreRecordsChanged prometheus.Counter
	dedupeSize          prometheus.Gauge
	dedupeHits          prometheus.Counter

	// Leaderboard Metrics
	leaderboardQueries *prometheus.CounterVec
	leaderboardLatency prometheus.Histogram

	// Cache Metrics
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations prometheus.Counter
	cacheKeysDeleted   prometheus.Counter

	// Store Metrics
	storeLatency *prometheus.HistogramVec
	storeRetries *prometheus.CounterVec
	storeRecords *prometheus.GaugeVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Warm Queue Metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueCoalesced         prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Retention Metrics
	retentionRuns   *prometheus.CounterVec
	retentionPurged *prometheus.CounterVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mindlab",
		subsystem:        "play",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Disabled managers still hand out working collectors, they are just
	// never exposed.
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.syncBatches = auto.NewCounterVec(
		m.counterOpts("sync_batches_total", "Sync requests by outcome (ok, invalid, failed, unavailable)"),
		[]string{"outcome"},
	)
	m.eventsSynced = auto.NewCounter(m.counterOpts("events_synced_total", "Events newly persisted by sync"))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total", "Retransmitted events acknowledged without a write"))
	m.syncBatchSize = auto.NewHistogram(m.histogramOpts("sync_batch_size", "Number of events per sync batch",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}))
	m.syncLatency = auto.NewHistogram(m.histogramOpts("sync_latency_milliseconds", "Sync batch latency in milliseconds", nil))
	m.scoreRecordsChanged = auto.NewCounter(m.counterOpts("score_records_changed_total", "Score records created or changed by sync"))
	m.dedupeSize = auto.NewGauge(m.gaugeOpts("dedupe_keys", "Committed idempotency keys remembered in memory"))
	m.dedupeHits = auto.NewCounter(m.counterOpts("dedupe_hits_total", "Events short-circuited by the in-memory key set"))

	m.leaderboardQueries = auto.NewCounterVec(
		m.counterOpts("leaderboard_queries_total", "Leaderboard queries by scope kind and cache result"),
		[]string{"scope", "cache"},
	)
	m.leaderboardLatency = auto.NewHistogram(m.histogramOpts("leaderboard_latency_milliseconds", "Leaderboard query latency in milliseconds", nil))

	m.cacheErrors = auto.NewCounterVec(
		m.counterOpts("cache_errors_total", "Cache operation failures by operation"),
		[]string{"op"},
	)
	m.cacheInvalidations = auto.NewCounter(m.counterOpts("cache_invalidations_total", "Leaderboard buckets invalidated"))
	m.cacheKeysDeleted = auto.NewCounter(m.counterOpts("cache_keys_deleted_total", "Cache keys removed by invalidation"))

	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_latency_milliseconds", "Store operation latency in milliseconds", nil),
		[]string{"op"},
	)
	m.storeRetries = auto.NewCounterVec(
		m.counterOpts("store_retries_total", "Transactions retried after a serialization or busy conflict"),
		[]string{"driver"},
	)
	m.storeRecords = auto.NewGaugeVec(
		m.gaugeOpts("store_records", "Rows per table"),
		[]string{"table"},
	)

	// HTTP Performance Metrics - User experience indicators
	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("warm_queue_size", "Pending cache warm jobs"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("warm_queue_capacity", "Maximum pending cache warm jobs"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("warm_queue_utilization", "Warm queue utilization ratio (0-1)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("warm_queue_enqueue_total", "Warm jobs enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("warm_queue_dequeue_total", "Warm jobs dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("warm_queue_dropped_total", "Warm jobs dropped because the queue was full or closed"))
	m.queueCoalesced = auto.NewCounter(m.counterOpts("warm_queue_coalesced_total", "Warm jobs merged into an already pending job"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("warm_queue_wait_milliseconds", "Time a warm job waited in the queue", nil))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured warm workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Warm workers currently processing"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count", "Warm workers currently idle"))
	m.workerMessagesPerSecond = auto.NewGauge(m.gaugeOpts("worker_jobs_per_second", "Average warm jobs processed per second"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Warm job processing latency", nil))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Warm jobs that failed"))

	m.retentionRuns = auto.NewCounterVec(
		m.counterOpts("retention_runs_total", "Retention sweeps by outcome"),
		[]string{"outcome"},
	)
	m.retentionPurged = auto.NewCounterVec(
		m.counterOpts("retention_purged_records_total", "Score records purged by period kind"),
		[]string{"kind"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Errors by type and severity"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Errors by endpoint, method and type"),
		[]string{"endpoint", "method", "error_type"},
	)
	m.errorLatency = auto.NewHistogramVec(
		m.histogramOpts("error_latency_milliseconds", "Latency of operations that ended in an error", nil),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RefreshInterval is how often gauge updaters should sample.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// Sync Metrics Functions.

// RecordSyncBatch counts a sync request by outcome.
func RecordSyncBatch(outcome string) {
	globalManager.syncBatches.WithLabelValues(outcome).Inc()
}

// RecordEventsSynced adds newly persisted events.
func RecordEventsSynced(n int) {
	globalManager.eventsSynced.Add(float64(n))
}

// RecordEventsDuplicate adds acknowledged duplicates.
func RecordEventsDuplicate(n int) {
	globalManager.eventsDuplicate.Add(float64(n))
}

// RecordSyncBatchSize observes the size of a batch.
func RecordSyncBatchSize(n int) {
	globalManager.syncBatchSize.Observe(float64(n))
}

// RecordSyncLatency records sync latency in milliseconds.
func RecordSyncLatency(latencyMs float64) {
	globalManager.syncLatency.Observe(latencyMs)
}

// RecordScoreRecordsChanged adds score records created or changed.
func RecordScoreRecordsChanged(n int) {
	globalManager.scoreRecordsChanged.Add(float64(n))
}

// UpdateDedupeSize sets the number of remembered keys.
func UpdateDedupeSize(n int64) {
	globalManager.dedupeSize.Set(float64(n))
}

// RecordDedupeHits adds events answered from memory.
func RecordDedupeHits(n int) {
	globalManager.dedupeHits.Add(float64(n))
}

// Leaderboard Metrics Functions.

// RecordLeaderboardQuery counts a leaderboard read. cache is hit, miss or refresh.
func RecordLeaderboardQuery(scope, cache string) {
	globalManager.leaderboardQueries.WithLabelValues(scope, cache).Inc()
}

// RecordLeaderboardLatency records leaderboard latency in milliseconds.
func RecordLeaderboardLatency(latencyMs float64) {
	globalManager.leaderboardLatency.Observe(latencyMs)
}

// Cache Metrics Functions.

// RecordCacheError counts a failed cache operation.
func RecordCacheError(op string) {
	globalManager.cacheErrors.WithLabelValues(op).Inc()
}

// RecordCacheInvalidation counts one invalidated bucket and the keys it removed.
func RecordCacheInvalidation(deleted int) {
	globalManager.cacheInvalidations.Inc()
	globalManager.cacheKeysDeleted.Add(float64(deleted))
}

// Store Metrics Functions.

// RecordStoreLatency records store operation latency.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreRetry counts a retried transaction.
func RecordStoreRetry(driver string) {
	globalManager.storeRetries.WithLabelValues(driver).Inc()
}

// UpdateStoreRecords sets the row count of a table.
func UpdateStoreRecords(table string, count int64) {
	globalManager.storeRecords.WithLabelValues(table).Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the dropped job counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueCoalesced increments the coalesced job counter.
func RecordQueueCoalesced() {
	globalManager.queueCoalesced.Inc()
}

// RecordQueueProcessingLatency records how long a job waited.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average jobs processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Retention Metrics Functions.

// RecordRetentionRun counts a retention sweep by outcome.
func RecordRetentionRun(outcome string) {
	globalManager.retentionRuns.WithLabelValues(outcome).Inc()
}

// RecordRetentionPurged adds purged records of a period kind.
func RecordRetentionPurged(kind string, n int64) {
	globalManager.retentionPurged.WithLabelValues(kind).Add(float64(n))
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
