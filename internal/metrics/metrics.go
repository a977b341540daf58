// Package metrics exposes Prometheus collectors for seeding runs, media
// fetches and background jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple apps never collide.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	SeedRecords   *prometheus.CounterVec
	SeedRuns      *prometheus.CounterVec
	SeedRunning   prometheus.Gauge
	SeedDuration  prometheus.Histogram
	MediaFetches  *prometheus.CounterVec
	JobExecutions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SeedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comicvault_seed_records_total",
			Help: "Seed records processed, by entity and outcome",
		}, []string{"entity", "outcome"}),
		SeedRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comicvault_seed_runs_total",
			Help: "Finished seed runs, by result",
		}, []string{"result"}),
		SeedRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "comicvault_seed_running",
			Help: "1 while a seed run is in progress",
		}),
		SeedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "comicvault_seed_duration_seconds",
			Help:    "Wall time of seed runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		MediaFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comicvault_media_fetches_total",
			Help: "Media references resolved, by state",
		}, []string{"state"}),
		JobExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comicvault_job_executions_total",
			Help: "Background job executions, by job and result",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRecord(entity, outcome string) {
	if m == nil {
		return
	}
	m.SeedRecords.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) ObserveMedia(state string) {
	if m == nil {
		return
	}
	m.MediaFetches.WithLabelValues(state).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.SeedRunning.Set(1)
}

func (m *Metrics) RunFinished(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.SeedRunning.Set(0)
	m.SeedDuration.Observe(d.Seconds())
	result := "completed"
	if failed {
		result = "failed"
	}
	m.SeedRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.JobExecutions.WithLabelValues(job, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
