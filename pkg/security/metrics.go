package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics of request screening
// NOTE: addresses are never used as labels
type Metrics struct {
	// ThreatsDetected counts signature hits by event type
	ThreatsDetected *prometheus.CounterVec
	// RateLimitViolations counts addresses found over the rate limit
	RateLimitViolations prometheus.Counter
	// AnomaliesDetected counts raised anomaly flags by kind
	AnomaliesDetected *prometheus.CounterVec
	// ScreeningDropped counts records not screened because the queue was full
	ScreeningDropped prometheus.Counter
	// ScreeningErrors counts failed best-effort screening steps
	ScreeningErrors *prometheus.CounterVec
	// QueueDepth tracks records waiting for screening
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers screening metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ThreatsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_watcher_security_threats_detected_total",
				Help: "Total number of requests matching an attack signature",
			},
			[]string{"type"},
		),
		RateLimitViolations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "log_watcher_security_rate_limit_violations_total",
				Help: "Total number of rate limit violations",
			},
		),
		AnomaliesDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_watcher_security_anomalies_detected_total",
				Help: "Total number of anomaly flags raised",
			},
			[]string{"kind"},
		),
		ScreeningDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "log_watcher_security_screening_dropped_total",
				Help: "Total number of records skipped because the screening queue was full",
			},
		),
		ScreeningErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_watcher_security_screening_errors_total",
				Help: "Total number of failed screening steps",
			},
			[]string{"step"}, // step: threat, rate_limit, anomaly
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "log_watcher_security_queue_depth",
				Help: "Number of records waiting for screening",
			},
		),
	}
}
