package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the ingestion server
type Metrics struct {
	// Requests tracks handled requests
	Requests *prometheus.CounterVec // labels: route, code

	// Duration tracks request handling time
	Duration *prometheus.HistogramVec // labels: route

	// UnresolvedHosts tracks requests whose proxy host could not be found
	UnresolvedHosts prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_watcher_ingest_requests_total",
				Help: "Total number of ingestion requests handled",
			},
			[]string{"route", "code"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "log_watcher_ingest_request_duration_seconds",
				Help:    "Time spent handling ingestion requests",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}, // 5ms to 30s
			},
			[]string{"route"},
		),
		UnresolvedHosts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "log_watcher_ingest_unresolved_hosts_total",
				Help: "Total number of ingestion requests whose proxy host could not be found",
			},
		),
	}
}
