package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	eventsTotal     *prometheus.CounterVec
	queueSize       prometheus.Gauge
	queueEvictions  prometheus.Counter
	processDuration *prometheus.HistogramVec

	rebuildTotal    *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	breakerTrips    prometheus.Counter

	movesTotal     *prometheus.CounterVec
	clustersActive prometheus.Gauge

	embeddingTotal    *prometheus.CounterVec
	embeddingDuration prometheus.Histogram

	filesRegistered prometheus.Gauge
	filesEmbedded   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			eventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fs_events_total",
					Help: "Filesystem events by operation and outcome (accepted, suppressed, dropped, evicted).",
				},
				[]string{"op", "outcome"},
			),
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "event_queue_size",
					Help: "Current event queue depth.",
				},
			),
			queueEvictions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "event_queue_evictions_total",
					Help: "Events evicted oldest-first on queue overflow.",
				},
			),
			processDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "event_process_duration_seconds",
					Help:    "End-to-end event handling duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			rebuildTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rebuild_cycles_total",
					Help: "Full rebuild cycles by status.",
				},
				[]string{"status"},
			),
			rebuildDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "rebuild_duration_seconds",
					Help:    "Full rebuild cycle duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			breakerTrips: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "rebuild_breaker_trips_total",
					Help: "Times the self-trigger circuit breaker halted layout sync.",
				},
			),
			movesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "file_moves_total",
					Help: "File moves performed by the synchronizer, by status.",
				},
				[]string{"status"},
			),
			clustersActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "clusters_active",
					Help: "Clusters produced by the most recent batch pass.",
				},
			),
			embeddingTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_requests_total",
					Help: "Embedding provider calls by status.",
				},
				[]string{"status"},
			),
			embeddingDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding provider call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			filesRegistered: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "files_registered",
					Help: "Active file records in the registry.",
				},
			),
			filesEmbedded: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "files_embedded",
					Help: "File records with a stored embedding.",
				},
			),
		}

		prometheus.MustRegister(
			m.eventsTotal,
			m.queueSize,
			m.queueEvictions,
			m.processDuration,
			m.rebuildTotal,
			m.rebuildDuration,
			m.breakerTrips,
			m.movesTotal,
			m.clustersActive,
			m.embeddingTotal,
			m.embeddingDuration,
			m.filesRegistered,
			m.filesEmbedded,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordEvent counts a filesystem event outcome.
func RecordEvent(op, outcome string) {
	getMetrics().eventsTotal.WithLabelValues(op, outcome).Inc()
}

// SetQueueSize updates the event queue depth gauge.
func SetQueueSize(size int) {
	getMetrics().queueSize.Set(float64(size))
}

// RecordEviction counts an oldest-first queue eviction.
func RecordEviction() {
	getMetrics().queueEvictions.Inc()
}

// RecordEventProcessed records an end-to-end event handling duration.
func RecordEventProcessed(op string, duration time.Duration) {
	getMetrics().processDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRebuild records a full rebuild cycle.
func RecordRebuild(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.rebuildTotal.WithLabelValues(status).Inc()
	m.rebuildDuration.Observe(duration.Seconds())
}

// RecordBreakerTrip counts a circuit breaker activation.
func RecordBreakerTrip() {
	getMetrics().breakerTrips.Inc()
}

// RecordMove counts a synchronizer file move.
func RecordMove(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().movesTotal.WithLabelValues(status).Inc()
}

// SetClustersActive updates the active cluster gauge.
func SetClustersActive(n int) {
	getMetrics().clustersActive.Set(float64(n))
}

// RecordEmbedding records an embedding provider call.
func RecordEmbedding(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.embeddingTotal.WithLabelValues(status).Inc()
	m.embeddingDuration.Observe(duration.Seconds())
}

// SetRegistryCounts updates the registry gauges.
func SetRegistryCounts(registered, embedded int) {
	m := getMetrics()
	m.filesRegistered.Set(float64(registered))
	m.filesEmbedded.Set(float64(embedded))
}
