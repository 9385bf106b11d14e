package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics manages Prometheus instrumentation for the ingest pipeline.
type PipelineMetrics struct {
	footprintsTotal   *prometheus.CounterVec
	incidencesCreated prometheus.Counter
	notifications     *prometheus.CounterVec
	backendFailures   prometheus.Counter
	queueDepth        prometheus.Gauge
	ingestDuration    prometheus.Histogram
	payloadsRejected  prometheus.Counter
}

var (
	pipelineMetricsInstance *PipelineMetrics
	pipelineMetricsOnce     sync.Once
)

// Metrics returns the process-wide pipeline metrics, registering them on
// first use.
func Metrics() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetricsInstance = newPipelineMetrics()
		pipelineMetricsInstance.register()
	})
	return pipelineMetricsInstance
}

func newPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		footprintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "footprints_total",
				Help:      "Total footprints ingested partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		incidencesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "incidences_created_total",
				Help:      "Total new incidences opened by the deduplicator.",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "notifications_total",
				Help:      "Notification decisions partitioned by result (sent, suppressed).",
			},
			[]string{"result"},
		),
		backendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "backend_failures_total",
				Help:      "Integration backend runs that returned an error.",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "queue_depth",
				Help:      "Payloads waiting in the ingest queue.",
			},
		),
		ingestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "End-to-end duration of one footprint ingest, dispatch included.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		payloadsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "insider",
				Subsystem: "ingest",
				Name:      "payloads_rejected_total",
				Help:      "Submissions dropped because the queue was full or closed.",
			},
		),
	}
}

func (m *PipelineMetrics) register() {
	prometheus.MustRegister(
		m.footprintsTotal,
		m.incidencesCreated,
		m.notifications,
		m.backendFailures,
		m.queueDepth,
		m.ingestDuration,
		m.payloadsRejected,
	)
}

func (m *PipelineMetrics) observeFootprint(outcome string) {
	if m == nil {
		return
	}
	m.footprintsTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) observeIncidenceCreated() {
	if m == nil {
		return
	}
	m.incidencesCreated.Inc()
}

func (m *PipelineMetrics) observeNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) observeBackendFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backendFailures.Add(float64(n))
}

func (m *PipelineMetrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(seconds)
}

func (m *PipelineMetrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *PipelineMetrics) observeRejected() {
	if m == nil {
		return
	}
	m.payloadsRejected.Inc()
}
