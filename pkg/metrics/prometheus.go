// Package metrics provides Prometheus metrics for the spotted bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultLatencyBucketsMs covers fast store writes up to the attachment wait.
var defaultLatencyBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the spotted service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Detection pipeline
	eventsReceived   *prometheus.CounterVec
	eventsIgnored    *prometheus.CounterVec
	verdicts         *prometheus.CounterVec
	attachmentFetch  *prometheus.CounterVec
	pipelineLatency  prometheus.Histogram
	dedupeSize       prometheus.Gauge
	failedEvents     prometheus.Gauge
	scoringFailures  prometheus.Counter
	scoreDeltas      prometheus.Counter
	scoreRetries     prometheus.Counter
	scoreWriteErrors prometheus.Counter

	// Store
	totalUsers   prometheus.Gauge
	storeLatency *prometheus.HistogramVec

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueWaitLatency   prometheus.Histogram
	workerCount        prometheus.Gauge
	workerErrors       prometheus.Counter
	workerPanics       prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Chat platform
	slackRequests    *prometheus.CounterVec
	slackLatency     *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	socketReconnects prometheus.Counter
	digestRuns       *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "spotted",
		subsystem:        "bot",
		histogramBuckets: defaultLatencyBucketsMs,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.eventsReceived = m.counterVec("events_received_total", "Message events received by transport", "transport")
	m.eventsIgnored = m.counterVec("events_ignored_total", "Inbound events dropped before classification", "reason")
	m.verdicts = m.counterVec("verdicts_total", "Classifier verdicts by reason", "reason")
	m.attachmentFetch = m.counterVec("attachment_refetch_total", "Delayed attachment re-fetches by result", "result")
	m.pipelineLatency = m.histogram("pipeline_latency_milliseconds", "End-to-end processing time of one event")
	m.dedupeSize = m.gauge("dedupe_entries", "Entries held by the processed-event set")
	m.failedEvents = m.gauge("failed_events", "Spots waiting for operator replay after a store failure")
	m.scoringFailures = m.counter("scoring_failures_total", "Confirmed spots that exhausted store retries")
	m.scoreDeltas = m.counter("score_deltas_applied_total", "Score deltas committed to the store")
	m.scoreRetries = m.counter("score_write_retries_total", "Store write attempts retried after an error")
	m.scoreWriteErrors = m.counter("score_write_errors_total", "Store write attempts that returned an error")

	m.totalUsers = m.gauge("total_users", "Users present on the leaderboard")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Score store operation latency", "op")

	m.queueSize = m.gauge("queue_size", "Current size of the event queue (backlog indicator)")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the event queue")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Events accepted by the queue")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Events rejected by a full or closed queue")
	m.queueWaitLatency = m.histogram("queue_wait_milliseconds", "Time an event spent queued before a worker took it")
	m.workerCount = m.gauge("worker_count", "Running event workers")
	m.workerErrors = m.counter("worker_errors_total", "Events whose handler returned an error")
	m.workerPanics = m.counter("worker_panics_total", "Handler panics recovered by workers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.slackRequests = m.counterVec("slack_api_requests_total", "Slack Web API calls by method and result", "method", "result")
	m.slackLatency = m.histogramVec("slack_api_latency_milliseconds", "Slack Web API latency", "method")
	m.notifications = m.counterVec("notifications_total", "Spot notifications by result", "result")
	m.socketReconnects = m.counter("socket_reconnects_total", "Socket Mode reconnect attempts")
	m.digestRuns = m.counterVec("digest_runs_total", "Scheduled leaderboard digests by result", "result")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Most recent GC pause")
}

// RecordEventReceived counts an inbound message event.
func RecordEventReceived(transport string) {
	globalManager.eventsReceived.WithLabelValues(transport).Inc()
}

// RecordEventIgnored counts an event filtered out before classification.
func RecordEventIgnored(reason string) {
	globalManager.eventsIgnored.WithLabelValues(reason).Inc()
}

// RecordVerdict counts a classifier verdict.
func RecordVerdict(reason string) {
	globalManager.verdicts.WithLabelValues(reason).Inc()
}

// RecordAttachmentRefetch counts a delayed attachment re-fetch.
func RecordAttachmentRefetch(result string) {
	globalManager.attachmentFetch.WithLabelValues(result).Inc()
}

// RecordPipelineLatency records processing time of one event in milliseconds.
func RecordPipelineLatency(latencyMs float64) {
	globalManager.pipelineLatency.Observe(latencyMs)
}

// UpdateDedupeSize sets the processed-event set size.
func UpdateDedupeSize(size int64) {
	globalManager.dedupeSize.Set(float64(size))
}

// UpdateFailedEvents sets the number of spots waiting for replay.
func UpdateFailedEvents(count int) {
	globalManager.failedEvents.Set(float64(count))
}

// RecordScoringFailure counts a spot whose deltas could not all be written.
func RecordScoringFailure() {
	globalManager.scoringFailures.Inc()
}

// RecordScoreDeltaApplied counts a committed delta.
func RecordScoreDeltaApplied() {
	globalManager.scoreDeltas.Inc()
}

// RecordScoreWriteRetry counts a retried store write.
func RecordScoreWriteRetry() {
	globalManager.scoreRetries.Inc()
}

// RecordScoreWriteError counts a failed store write attempt.
func RecordScoreWriteError() {
	globalManager.scoreWriteErrors.Inc()
}

// UpdateTotalUsers sets the leaderboard population.
func UpdateTotalUsers(count int) {
	globalManager.totalUsers.Set(float64(count))
}

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueWaitLatency records how long an event sat in the queue.
func RecordQueueWaitLatency(latencyMs float64) {
	globalManager.queueWaitLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerPanic increments the recovered panic counter.
func RecordWorkerPanic() {
	globalManager.workerPanics.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordSlackRequest records one Slack Web API call.
func RecordSlackRequest(method, result string, latencyMs float64) {
	globalManager.slackRequests.WithLabelValues(method, result).Inc()
	globalManager.slackLatency.WithLabelValues(method).Observe(latencyMs)
}

// RecordNotification counts a spot notification attempt.
func RecordNotification(result string) {
	globalManager.notifications.WithLabelValues(result).Inc()
}

// RecordSocketReconnect counts a Socket Mode reconnect.
func RecordSocketReconnect() {
	globalManager.socketReconnects.Inc()
}

// RecordDigestRun counts a scheduled digest run.
func RecordDigestRun(result string) {
	globalManager.digestRuns.WithLabelValues(result).Inc()
}

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
