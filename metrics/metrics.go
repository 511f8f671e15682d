// Package metrics holds the Prometheus collectors for ingestion runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for fetches, candidates and runs.
// All methods are safe on a nil receiver.
type Metrics struct {
	Registry        *prometheus.Registry
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	CandidatesTotal *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ActiveRuns      prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetches_total",
			Help: "Pages fetched per source by outcome.",
		},
		[]string{"source", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Latency of a single page fetch including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_retries_total",
			Help: "Fetch retry attempts per source.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_errors_total",
			Help: "Fetch errors per source by type.",
		},
		[]string{"source", "error_type"},
	)
	candidates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_candidates_total",
			Help: "Candidates processed per source by outcome.",
		},
		[]string{"source", "outcome"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Finished or skipped runs per source by status.",
		},
		[]string{"source", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_active_runs",
			Help: "Runs currently in progress.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, retries, errorsTotal, candidates, runs, runDuration, active)

	return &Metrics{
		Registry:        registry,
		FetchesTotal:    fetches,
		FetchDuration:   fetchDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		CandidatesTotal: candidates,
		RunsTotal:       runs,
		RunDuration:     runDuration,
		ActiveRuns:      active,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncFetch counts a page fetch with its outcome (ok, empty, error).
func (m *Metrics) IncFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncRetry counts a retry attempt.
func (m *Metrics) IncRetry(source string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Inc()
}

// IncError counts a fetch error by type label.
func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// IncCandidate counts a candidate outcome (created, updated, discarded, error).
func (m *Metrics) IncCandidate(source, outcome string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(source, outcome).Inc()
}

// RunStarted bumps the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a closed run and drops the active gauge.
func (m *Metrics) RunFinished(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(source, status).Inc()
	m.RunDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RunSkipped counts a trigger that found the source already running.
func (m *Metrics) RunSkipped(source string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, "skipped").Inc()
}
