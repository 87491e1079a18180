// Package metrics provides Prometheus metrics for the facefx pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the facefx process.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    map[string]string
	registry       prometheus.Registerer

	// Capture & tracking
	framesCaptured     *prometheus.CounterVec
	framesDropped      *prometheus.CounterVec
	detections         *prometheus.CounterVec
	detectionLatency   prometheus.Histogram
	cacheWrites        *prometheus.CounterVec
	landmarkConfidence prometheus.Gauge
	trackingActive     prometheus.Gauge

	// Positioning & rendering
	placements        *prometheus.CounterVec
	layerDrawLatency  prometheus.Histogram
	imageLoadFailures *prometheus.CounterVec
	activeOverlays    prometheus.Gauge

	// Tick loops
	loopTicks       *prometheus.CounterVec
	loopSkipped     *prometheus.CounterVec
	loopTickLatency *prometheus.HistogramVec

	// Recording
	recorderState       prometheus.Gauge
	recordings          *prometheus.CounterVec
	recordingChunks     prometheus.Counter
	recordingBytes      prometheus.Counter
	recordingDuration   prometheus.Histogram
	syncDrift           prometheus.Histogram
	formatSubstitutions prometheus.Counter

	// Chunk queue
	queueSize          prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

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
		namespace:      "facefx",
		subsystem:      "pipeline",
		latencyBuckets: []float64{1, 2, 5, 10, 16, 33, 50, 100, 200, 500, 1000},
		constLabels:    map[string]string{},
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.framesCaptured = m.counterVec("frames_captured_total", "Frames published by the frame source", "source")
	m.framesDropped = m.counterVec("frames_dropped_total", "Frames skipped by a consumer (tracker busy, mailbox overwrite)", "stage")
	m.detections = m.counterVec("detections_total", "Detector calls by outcome", "outcome")
	m.detectionLatency = m.histogram("detection_latency_milliseconds", "Detector round-trip latency in milliseconds", m.latencyBuckets)
	m.cacheWrites = m.counterVec("landmark_cache_writes_total", "Landmark cache writes by outcome", "outcome")
	m.landmarkConfidence = m.gauge("landmark_confidence", "Confidence of the latest landmark set")
	m.trackingActive = m.gauge("tracking_active", "1 while a face is being tracked")

	m.placements = m.counterVec("placements_total", "Placements computed by overlay kind and outcome", "kind", "outcome")
	m.layerDrawLatency = m.histogram("layer_draw_latency_milliseconds", "Layer redraw latency in milliseconds", m.latencyBuckets)
	m.imageLoadFailures = m.counterVec("image_load_failures_total", "Overlay images that could not be loaded", "overlay")
	m.activeOverlays = m.gauge("active_overlays", "Number of currently active overlays")

	m.loopTicks = m.counterVec("loop_ticks_total", "Ticks executed by periodic loops", "loop")
	m.loopSkipped = m.counterVec("loop_deadlines_skipped_total", "Deadlines skipped because a tick overran", "loop")
	m.loopTickLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "loop_tick_latency_milliseconds",
		Help:        "Tick callback latency in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: m.constLabels,
	}, []string{"loop"})

	m.recorderState = m.gauge("recorder_state", "Recorder state (0 inactive, 1 starting, 2 recording, 3 paused, 4 stopping, 5 error)")
	m.recordings = m.counterVec("recordings_total", "Finished recordings by outcome", "outcome")
	m.recordingChunks = m.counter("recording_chunks_total", "Encoder chunks received")
	m.recordingBytes = m.counter("recording_bytes_total", "Encoded bytes received")
	m.recordingDuration = m.histogram("recording_duration_seconds", "Duration of finished recordings", []float64{1, 5, 15, 30, 60, 120, 300, 600})
	m.syncDrift = m.histogram("sync_drift_milliseconds", "Absolute audio/video drift samples", []float64{1, 5, 10, 25, 50, 100, 250})
	m.formatSubstitutions = m.counter("format_substitutions_total", "Recordings whose configured format was replaced by a supported one")

	m.queueSize = m.gauge("chunk_queue_size", "Chunks waiting to be collected")
	m.queueEnqueueErrors = m.counterVec("chunk_queue_enqueue_errors_total", "Chunk enqueue failures by reason", "reason")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordFrameCaptured increments the captured frames counter for a source.
func RecordFrameCaptured(source string) {
	globalManager.framesCaptured.WithLabelValues(source).Inc()
}

// RecordFrameDropped increments the dropped frames counter for a stage.
func RecordFrameDropped(stage string) {
	globalManager.framesDropped.WithLabelValues(stage).Inc()
}

// RecordDetection counts a detector call outcome: ok, no_face, error, stale.
func RecordDetection(outcome string) {
	globalManager.detections.WithLabelValues(outcome).Inc()
}

// RecordDetectionLatency records detector latency in milliseconds.
func RecordDetectionLatency(latencyMs float64) {
	globalManager.detectionLatency.Observe(latencyMs)
}

// RecordCacheWrite counts landmark cache writes: accepted, out_of_order.
func RecordCacheWrite(outcome string) {
	globalManager.cacheWrites.WithLabelValues(outcome).Inc()
}

// UpdateLandmarkConfidence sets the confidence of the latest landmark set.
func UpdateLandmarkConfidence(confidence float64) {
	globalManager.landmarkConfidence.Set(confidence)
}

// UpdateTrackingActive sets the tracking gauge.
func UpdateTrackingActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	globalManager.trackingActive.Set(v)
}

// RecordPlacement counts a placement result for an overlay kind.
func RecordPlacement(kind, outcome string) {
	globalManager.placements.WithLabelValues(kind, outcome).Inc()
}

// RecordLayerDrawLatency records layer redraw latency in milliseconds.
func RecordLayerDrawLatency(latencyMs float64) {
	globalManager.layerDrawLatency.Observe(latencyMs)
}

// RecordImageLoadFailure counts an overlay image load failure.
func RecordImageLoadFailure(overlayID string) {
	globalManager.imageLoadFailures.WithLabelValues(overlayID).Inc()
}

// UpdateActiveOverlays sets the active overlay gauge.
func UpdateActiveOverlays(count int) {
	globalManager.activeOverlays.Set(float64(count))
}

// RecordLoopTick records one executed tick and its latency.
func RecordLoopTick(loop string, latencyMs float64) {
	globalManager.loopTicks.WithLabelValues(loop).Inc()
	globalManager.loopTickLatency.WithLabelValues(loop).Observe(latencyMs)
}

// RecordLoopSkipped adds skipped deadlines for a loop.
func RecordLoopSkipped(loop string, n int) {
	globalManager.loopSkipped.WithLabelValues(loop).Add(float64(n))
}

// UpdateRecorderState sets the recorder state gauge.
func UpdateRecorderState(state int) {
	globalManager.recorderState.Set(float64(state))
}

// RecordRecording counts a finished recording: ok, truncated, empty, discarded.
func RecordRecording(outcome string, durationSeconds float64) {
	globalManager.recordings.WithLabelValues(outcome).Inc()
	globalManager.recordingDuration.Observe(durationSeconds)
}

// RecordChunk counts an encoder chunk and its size.
func RecordChunk(size int) {
	globalManager.recordingChunks.Inc()
	globalManager.recordingBytes.Add(float64(size))
}

// RecordSyncDrift records one absolute drift sample in milliseconds.
func RecordSyncDrift(driftMs float64) {
	globalManager.syncDrift.Observe(driftMs)
}

// RecordFormatSubstitution counts a negotiated format fallback.
func RecordFormatSubstitution() {
	globalManager.formatSubstitutions.Inc()
}

// UpdateQueueSize sets the current chunk queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueueError counts a chunk enqueue failure.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
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
