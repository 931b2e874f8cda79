package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects worker-level counters for the /metrics endpoint. A custom
// registry keeps the output to what this process owns.
type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed  *prometheus.CounterVec
	duplicates     prometheus.Counter
	jobsInFlight   prometheus.Gauge
	jobDuration    prometheus.Histogram
	cleanupDeleted prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worker",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed, labelled by terminal outcome",
		}, []string{"outcome"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "worker",
			Name:      "duplicates_absorbed_total",
			Help:      "Redelivered messages answered from the idempotency store",
		}),
		jobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "worker",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed",
		}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worker",
			Name:      "job_duration_seconds",
			Help:      "End-to-end processing time per job",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		cleanupDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "worker",
			Name:      "cleanup_deleted_total",
			Help:      "Expired idempotency records removed by cleanup",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
