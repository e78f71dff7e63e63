// Package metrics provides Prometheus metrics for the ratekeep service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the ratekeep service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Finish pipeline
	finishes            *prometheus.CounterVec
	finishLatency       prometheus.Histogram
	calculationFailures prometheus.Counter
	puzzleRatingUpdates prometheus.Counter
	playerRatingUpdates prometheus.Counter
	playsIncrements     prometheus.Counter
	duplicateRequests   prometheus.Counter

	// Sequencer
	sequencerQueues      *prometheus.GaugeVec
	sequencerEvictions   *prometheus.CounterVec
	sequencerExpirations *prometheus.CounterVec
	sequencerTimeouts    *prometheus.CounterVec
	sequencerOrphans     *prometheus.CounterVec
	sequencerWaits       *prometheus.CounterVec
	sequencerTaskLatency *prometheus.HistogramVec

	// Event bus
	busQueueSize     prometheus.Gauge
	busQueueCapacity prometheus.Gauge
	busPublished     prometheus.Counter
	busDropped       prometheus.Counter
	busDelivered     prometheus.Counter
	busHandlerErrors prometheus.Counter
	busWorkers       prometheus.Gauge

	// Stores
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	playersTotal prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

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
		namespace:        "ratekeep",
		subsystem:        "puzzle",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether recording helpers update metrics.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// RefreshInterval is how often polled gauges should be refreshed.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.refreshInterval.Load())
}

// Configure applies WithMetricsEnabled and WithRefreshInterval to the global
// manager. Options that shape metric names only take effect in NewManager.
func Configure(opts ...Option) {
	for _, opt := range opts {
		opt(globalManager)
	}
}

// Enabled reports whether the global manager records.
func Enabled() bool {
	return globalManager.Enabled()
}

// RefreshInterval returns the global gauge refresh interval.
func RefreshInterval() time.Duration {
	return globalManager.RefreshInterval()
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, lbls ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, lbls)
	}

	m.finishes = counterVec("finishes_total", "Finish calls by branch (casual, repeat, first_rated, first_casual, not_found, failed)", "branch")
	m.finishLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("finish_latency_milliseconds"),
		Help: "End-to-end finish latency in milliseconds, including sequencer wait", Buckets: m.histogramBuckets, ConstLabels: labels,
	})
	m.calculationFailures = counter("calculation_failures_total", "Rating calculations that failed and degraded to no rating change")
	m.puzzleRatingUpdates = counter("puzzle_rating_updates_total", "Puzzle ratings rewritten by a first rated attempt")
	m.playerRatingUpdates = counter("player_rating_updates_total", "Player ratings rewritten by a first rated attempt")
	m.playsIncrements = counter("plays_increments_total", "Puzzle play counter increments")
	m.duplicateRequests = counter("duplicate_requests_total", "Finish requests rejected as duplicates by request id")

	m.sequencerQueues = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("sequencer_queues"),
		Help: "Per-key queues currently tracked by a sequencer", ConstLabels: labels,
	}, []string{"sequencer"})
	m.sequencerEvictions = counterVec("sequencer_evictions_total", "Idle queues evicted to admit a new key", "sequencer")
	m.sequencerExpirations = counterVec("sequencer_expirations_total", "Idle queues removed after the expiration window", "sequencer")
	m.sequencerTimeouts = counterVec("sequencer_timeouts_total", "Tasks that exceeded the per-task timeout", "sequencer")
	m.sequencerOrphans = counterVec("sequencer_orphans_completed_total", "Timed out tasks that completed in the background", "sequencer")
	m.sequencerWaits = counterVec("sequencer_capacity_waits_total", "Admissions that had to wait for a queue to drain", "sequencer")
	m.sequencerTaskLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("sequencer_task_latency_milliseconds"),
		Help: "Sequenced task run time in milliseconds", Buckets: m.histogramBuckets, ConstLabels: labels,
	}, []string{"sequencer"})

	m.busQueueSize = gauge("bus_queue_size", "Finish events waiting for delivery")
	m.busQueueCapacity = gauge("bus_queue_capacity", "Maximum finish events buffered by the bus")
	m.busPublished = counter("bus_published_total", "Finish events accepted by the bus")
	m.busDropped = counter("bus_dropped_total", "Finish events dropped because the bus was full or closed")
	m.busDelivered = counter("bus_delivered_total", "Finish events delivered to subscribers")
	m.busHandlerErrors = counter("bus_handler_errors_total", "Subscriber failures while handling finish events")
	m.busWorkers = gauge("bus_workers", "Workers delivering finish events")

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("store_latency_milliseconds"),
		Help: "Store operation latency in milliseconds", Buckets: m.histogramBuckets, ConstLabels: labels,
	}, []string{"store", "op"})
	m.storeErrors = counterVec("store_errors_total", "Store operation failures", "store", "op")
	m.playersTotal = gauge("players_total", "Players tracked by the player store")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "HTTP errors by endpoint, method and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("system_gc_pause_time_milliseconds"),
		Help: "GC pause time in milliseconds", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// Finish pipeline.

// RecordFinish counts a finish call by the branch it took.
func RecordFinish(branch string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.finishes.WithLabelValues(branch).Inc()
}

// RecordFinishLatency records end-to-end finish latency.
func RecordFinishLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.finishLatency.Observe(latencyMs)
}

// RecordCalculationFailure counts a degraded rating calculation.
func RecordCalculationFailure() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.calculationFailures.Inc()
}

// RecordPuzzleRatingUpdate counts a rewritten puzzle rating.
func RecordPuzzleRatingUpdate() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.puzzleRatingUpdates.Inc()
}

// RecordPlayerRatingUpdate counts a rewritten player rating.
func RecordPlayerRatingUpdate() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.playerRatingUpdates.Inc()
}

// RecordPlaysIncrement counts a plays counter bump.
func RecordPlaysIncrement() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.playsIncrements.Inc()
}

// RecordDuplicateRequest counts a finish request rejected by the deduper.
func RecordDuplicateRequest() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.duplicateRequests.Inc()
}

// Sequencer.

// UpdateSequencerQueues sets the number of tracked queues for a sequencer.
func UpdateSequencerQueues(sequencer string, count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerQueues.WithLabelValues(sequencer).Set(float64(count))
}

// RecordSequencerEviction counts an idle queue eviction.
func RecordSequencerEviction(sequencer string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerEvictions.WithLabelValues(sequencer).Inc()
}

// RecordSequencerExpiration counts an expired idle queue.
func RecordSequencerExpiration(sequencer string, n int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerExpirations.WithLabelValues(sequencer).Add(float64(n))
}

// RecordSequencerTimeout counts a task timeout.
func RecordSequencerTimeout(sequencer string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerTimeouts.WithLabelValues(sequencer).Inc()
}

// RecordSequencerOrphan counts a timed out task that finished later.
func RecordSequencerOrphan(sequencer string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerOrphans.WithLabelValues(sequencer).Inc()
}

// RecordSequencerCapacityWait counts an admission that waited for capacity.
func RecordSequencerCapacityWait(sequencer string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerWaits.WithLabelValues(sequencer).Inc()
}

// RecordSequencerTaskLatency records how long a task ran.
func RecordSequencerTaskLatency(sequencer string, latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sequencerTaskLatency.WithLabelValues(sequencer).Observe(latencyMs)
}

// Event bus.

// UpdateBusQueueSize sets the number of buffered finish events.
func UpdateBusQueueSize(size int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busQueueSize.Set(float64(size))
}

// UpdateBusQueueCapacity sets the bus buffer capacity.
func UpdateBusQueueCapacity(capacity int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busQueueCapacity.Set(float64(capacity))
}

// RecordBusPublished counts an accepted event.
func RecordBusPublished() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busPublished.Inc()
}

// RecordBusDropped counts a dropped event.
func RecordBusDropped() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busDropped.Inc()
}

// RecordBusDelivered counts an event handed to subscribers.
func RecordBusDelivered() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busDelivered.Inc()
}

// RecordBusHandlerError counts a subscriber failure.
func RecordBusHandlerError() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busHandlerErrors.Inc()
}

// UpdateBusWorkers sets the number of delivery workers.
func UpdateBusWorkers(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.busWorkers.Set(float64(count))
}

// Stores.

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(store, op string, latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(store, op string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.storeErrors.WithLabelValues(store, op).Inc()
}

// UpdatePlayersTotal sets the number of known players.
func UpdatePlayersTotal(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.playersTotal.Set(float64(count))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
