// Package metrics exports Prometheus metrics for the rollup jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewrollup"

// Metrics holds all job metrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	DeleteBatches    *prometheus.CounterVec
	DocumentsDeleted *prometheus.CounterVec
	DocumentsWritten *prometheus.CounterVec
	EventsAggregated prometheus.Gauge
	EventsSkipped    prometheus.Counter
}

// New registers the metrics. Every series carries the deployment region.
func New(region string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"region": region}, reg))

	return &Metrics{
		registry: reg,
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by job, status and error kind",
		}, []string{"job", "status", "kind"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job run duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		DeleteBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_batches_total",
			Help:      "Committed delete batches by collection",
		}, []string{"collection"}),
		DocumentsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_deleted_total",
			Help:      "Documents deleted by collection",
		}, []string{"collection"}),
		DocumentsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Rollup documents written per run",
		}, []string{"job"}),
		EventsAggregated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_aggregated",
			Help:      "Events in the batch of the last aggregation run",
		}),
		EventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events dropped by validation",
		}),
	}
}

// ObserveRun records one job run. Successful runs carry kind "none".
func (m *Metrics) ObserveRun(job, status, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "none"
	}
	m.JobRuns.WithLabelValues(job, status, kind).Inc()
	m.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// ObserveDeleteBatch matches replacer.BatchHook.
func (m *Metrics) ObserveDeleteBatch(collection string, _ int, deleted int64) {
	m.DeleteBatches.WithLabelValues(collection).Inc()
	m.DocumentsDeleted.WithLabelValues(collection).Add(float64(deleted))
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
