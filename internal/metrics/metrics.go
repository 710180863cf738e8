package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quacwatch"

// Metrics holds the collectors registered for one daemon instance.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal         *prometheus.CounterVec
	candidatesTotal    *prometheus.CounterVec
	materializedTotal  *prometheus.CounterVec
	jobsCompletedTotal *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	reconcileErrors    prometheus.Counter
	jobStates          *prometheus.GaugeVec
	mountAttempts      *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}
	m.initDetectorMetrics(factory)
	m.initJobMetrics(factory)
	m.initMountMetrics(factory)
	return m
}

func (m *Metrics) initDetectorMetrics(factory promauto.Factory) {
	m.scansTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Detector scan cycles by target and result",
		},
		[]string{"target", "result"},
	)
	m.candidatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Stable files handed to the materializer",
		},
		[]string{"target"},
	)
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.materializedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_materialized_total",
			Help:      "Materialization attempts by target and result",
		},
		[]string{"target", "result"},
	)
	m.jobsCompletedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Pipeline runs that left WORKING, by outcome",
		},
		[]string{"result"},
	)
	m.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Pipeline run duration",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
		[]string{"result"},
	)
	m.reconcileErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Successful runs whose results could not be reconciled",
		},
	)
	m.jobStates = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Job directories by lifecycle state",
		},
		[]string{"state"},
	)
}

func (m *Metrics) initMountMetrics(factory promauto.Factory) {
	m.mountAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_attempts_total",
			Help:      "Share ensure attempts by share and result",
		},
		[]string{"share", "result"},
	)
}

// ScanCompleted records one detector cycle.
func (m *Metrics) ScanCompleted(target string, err error) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(target, resultLabel(err == nil)).Inc()
}

// CandidateEmitted records a stable file handed off for materialization.
func (m *Metrics) CandidateEmitted(target string) {
	if m == nil {
		return
	}
	m.candidatesTotal.WithLabelValues(target).Inc()
}

// JobMaterialized records a materialization outcome ("ok", "queued" or "error").
func (m *Metrics) JobMaterialized(target, result string) {
	if m == nil {
		return
	}
	m.materializedTotal.WithLabelValues(target, result).Inc()
}

// JobCompleted records a finished or failed pipeline run.
func (m *Metrics) JobCompleted(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		m.jobDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ReconcileFailed increments the reconciliation error counter.
func (m *Metrics) ReconcileFailed() {
	if m == nil {
		return
	}
	m.reconcileErrors.Inc()
}

// SetJobStates replaces the per-state job gauge values.
func (m *Metrics) SetJobStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.jobStates.Reset()
	for state, n := range counts {
		m.jobStates.WithLabelValues(state).Set(float64(n))
	}
}

// MountAttempt records one share ensure attempt.
func (m *Metrics) MountAttempt(share string, ok bool) {
	if m == nil {
		return
	}
	m.mountAttempts.WithLabelValues(share, resultLabel(ok)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
