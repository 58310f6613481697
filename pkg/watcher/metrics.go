package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for log-watcher, grouped by operation
// NOTE: No proxy host labels are used to avoid high cardinality issues
type Metrics struct {
	Files    FileMetrics
	Lines    LineMetrics
	Batches  BatchMetrics
	Archives ArchiveMetrics
}

// FileMetrics tracks log file polling
type FileMetrics struct {
	// Watched tracks the number of access logs found by the last poll
	Watched prometheus.Gauge

	// Rotations tracks files read again from the start after shrinking
	Rotations prometheus.Counter

	// ReadErrors tracks files skipped for a poll after an I/O error
	ReadErrors prometheus.Counter

	// PollDuration tracks the time spent on one poll of all files
	PollDuration prometheus.Histogram
}

// LineMetrics tracks parsing
type LineMetrics struct {
	// Read tracks complete lines read from files or received by webhooks
	Read prometheus.Counter

	// Parsed tracks parsed lines by grammar
	Parsed *prometheus.CounterVec // labels: format

	// Failed tracks lines matching no grammar
	Failed prometheus.Counter

	// Unattributed tracks lines of files without a proxy host id
	Unattributed prometheus.Counter
}

// BatchMetrics tracks persistence
type BatchMetrics struct {
	// Persisted tracks batches by status
	Persisted *prometheus.CounterVec // labels: status (success/failed/empty)

	// Records tracks records written
	Records prometheus.Counter

	// RecordsSkipped tracks records older than the maximum age
	RecordsSkipped prometheus.Counter

	// RecordsLost tracks records dropped after exhausting retries
	RecordsLost prometheus.Counter

	// Retries tracks retried transactions
	Retries prometheus.Counter

	// ConsecutiveErrors tracks the current streak of failed batches
	ConsecutiveErrors prometheus.Gauge

	// Duration tracks batch persistence time including retries
	Duration prometheus.Histogram
}

// ArchiveMetrics tracks the best-effort copies of batches
type ArchiveMetrics struct {
	// Mirrored tracks batches mirrored to the analytics store by status
	Mirrored *prometheus.CounterVec // labels: status (success/failed)

	// DeadLettered tracks dropped batches uploaded to the dead-letter bucket by status
	DeadLettered *prometheus.CounterVec // labels: status (success/failed)
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry
// This is useful for testing to avoid conflicts with the default registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Files: FileMetrics{
			Watched: factory.NewGauge(
				prometheus.GaugeOpts{
					Name: "log_watcher_files_watched",
					Help: "Number of access log files found by the last poll",
				},
			),
			Rotations: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_file_rotations_total",
					Help: "Total number of rotated or truncated files read again from the start",
				},
			),
			ReadErrors: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_file_read_errors_total",
					Help: "Total number of file reads that failed",
				},
			),
			PollDuration: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "log_watcher_poll_duration_seconds",
					Help:    "Time spent polling all access log files once",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}, // 10ms to 30s
				},
			),
		},

		Lines: LineMetrics{
			Read: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_lines_read_total",
					Help: "Total number of access log lines read",
				},
			),
			Parsed: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_watcher_lines_parsed_total",
					Help: "Total number of access log lines parsed",
				},
				[]string{"format"}, // format: primary, relaxed, combined, structured
			),
			Failed: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_lines_parse_failed_total",
					Help: "Total number of access log lines matching no known format",
				},
			),
			Unattributed: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_lines_unattributed_total",
					Help: "Total number of lines skipped because their file has no proxy host id",
				},
			),
		},

		Batches: BatchMetrics{
			Persisted: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_watcher_batches_persisted_total",
					Help: "Total number of record batches handled by the persister",
				},
				[]string{"status"}, // status: success, failed, empty
			),
			Records: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_records_persisted_total",
					Help: "Total number of records written to the database",
				},
			),
			RecordsSkipped: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_records_skipped_total",
					Help: "Total number of records skipped for being older than the maximum age",
				},
			),
			RecordsLost: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_records_lost_total",
					Help: "Total number of records dropped after exhausting retries",
				},
			),
			Retries: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "log_watcher_batch_retries_total",
					Help: "Total number of batch transactions retried after a transient error",
				},
			),
			ConsecutiveErrors: factory.NewGauge(
				prometheus.GaugeOpts{
					Name: "log_watcher_consecutive_batch_errors",
					Help: "Number of consecutive batches dropped after exhausting retries",
				},
			),
			Duration: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "log_watcher_batch_duration_seconds",
					Help:    "Time spent persisting one batch, including retries",
					Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}, // 5ms to 30s
				},
			),
		},

		Archives: ArchiveMetrics{
			Mirrored: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_watcher_batches_mirrored_total",
					Help: "Total number of persisted batches mirrored to the analytics store",
				},
				[]string{"status"}, // status: success, failed
			),
			DeadLettered: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "log_watcher_batches_dead_lettered_total",
					Help: "Total number of dropped batches uploaded to the dead-letter bucket",
				},
				[]string{"status"}, // status: success, failed
			),
		},
	}
}
