package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	arenaPeak     prometheus.Gauge
	allocFailures prometheus.Counter
	detections    prometheus.Counter
	runs          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yolo_pipeline_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),
		arenaPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yolo_arena_peak_bytes",
			Help: "Peak arena bytes in use during the last run",
		}),
		allocFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yolo_arena_alloc_failures_total",
			Help: "Runs aborted by arena exhaustion",
		}),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yolo_pipeline_detections_total",
			Help: "Detections kept after suppression",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yolo_pipeline_runs_total",
			Help: "Completed forward passes by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.stageDuration, m.arenaPeak, m.allocFailures, m.detections, m.runs)
	}
	return m
}

func (m *Metrics) observeStage(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) observeRun(peak int, err error, allocFailed bool) {
	if m == nil {
		return
	}
	m.arenaPeak.Set(float64(peak))
	if err != nil {
		m.runs.WithLabelValues(ResultError).Inc()
		if allocFailed {
			m.allocFailures.Inc()
		}
		return
	}
	m.runs.WithLabelValues(ResultOK).Inc()
}

func (m *Metrics) addDetections(n int) {
	if m == nil {
		return
	}
	m.detections.Add(float64(n))
}
