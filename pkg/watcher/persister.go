package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Persister defaults
const (
	DefaultBatchSize    = 100
	DefaultMaxLogAge    = 7 * 24 * time.Hour
	DefaultWriteTimeout = 30 * time.Second

	// failures beyond the first few of a streak are only logged every
	// failureLogInterval batches
	failureLogBurst    = 5
	failureLogInterval = 10
)

// BatchWriter writes the raw rows and rollup increments of a batch in
// one transaction
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch accesslog.Batch) error
}

// Archiver mirrors persisted batches to secondary storage
type Archiver interface {
	ArchiveBatch(ctx context.Context, batch accesslog.Batch) error
}

// DeadLetterSink keeps the records of batches that could not be
// persisted
type DeadLetterSink interface {
	Store(ctx context.Context, proxyHostID int, records []accesslog.LogRecord) (string, error)
}

// BatchResult is the outcome of persisting one batch
type BatchResult struct {
	SuccessCount int `json:"successCount"`
	TotalCount   int `json:"totalCount"`
	SkippedCount int `json:"skippedCount"`
}

// PersisterConfig holds persister configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type PersisterConfig struct {
	Writer BatchWriter
	// Archiver and DeadLetter are optional
	Archiver   Archiver
	DeadLetter DeadLetterSink

	Retry        RetryPolicy
	MaxLogAge    time.Duration
	WriteTimeout time.Duration

	Now     func() time.Time
	Stats   *Stats
	Metrics *Metrics
	Logger  *slog.Logger
}

// Persister stores batches of records of one proxy host. Storage
// failures are absorbed: they are counted and logged, never returned.
type Persister struct {
	writer     BatchWriter
	archiver   Archiver
	deadLetter DeadLetterSink
	now        func() time.Time
	stats      *Stats
	metrics    *Metrics
	logger     *slog.Logger

	retry        RetryPolicy
	maxLogAge    time.Duration
	writeTimeout time.Duration
}

// NewPersister creates a persister
func NewPersister(cfg PersisterConfig) *Persister {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxLogAge := cfg.MaxLogAge
	if maxLogAge <= 0 {
		maxLogAge = DefaultMaxLogAge
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats(now)
	}

	p := &Persister{
		writer:       cfg.Writer,
		archiver:     cfg.Archiver,
		deadLetter:   cfg.DeadLetter,
		now:          now,
		stats:        stats,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		retry:        cfg.Retry,
		maxLogAge:    maxLogAge,
		writeTimeout: writeTimeout,
	}

	onRetry := cfg.Retry.OnRetry
	p.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		if p.metrics != nil {
			p.metrics.Batches.Retries.Inc()
		}
		p.logger.Debug("transient database error, retrying batch",
			"attempt", attempt,
			"delayMs", delay.Milliseconds(),
			"error", err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return p
}

// Stats returns the counters updated by the persister
func (p *Persister) Stats() *Stats {
	return p.stats
}

// Cutoff returns the time before which records are considered stale
func (p *Persister) Cutoff() time.Time {
	return p.now().Add(-p.maxLogAge)
}

// Persist stores records of proxyHostID. Records older than the
// maximum age are skipped. Transient failures are retried; once the
// retries are exhausted the batch is dropped and handed to the
// dead-letter sink.
func (p *Persister) Persist(ctx context.Context, proxyHostID int, records []accesslog.LogRecord) BatchResult {
	start := time.Now()
	result := BatchResult{TotalCount: len(records)}

	kept, skipped := accesslog.FilterStale(records, p.Cutoff())
	result.SkippedCount = skipped
	if skipped > 0 {
		p.stats.RecordSkipped(skipped)
		if p.metrics != nil {
			p.metrics.Batches.RecordsSkipped.Add(float64(skipped))
		}
		p.logger.Debug("skipped records older than maximum age",
			"proxyHostId", proxyHostID,
			"skipped", skipped,
			"maxLogAgeHours", p.maxLogAge.Hours())
	}
	if len(kept) == 0 {
		p.observe("empty", start)
		return result
	}

	batch := accesslog.Aggregate(proxyHostID, kept)
	attempts, err := p.retry.Do(ctx, func(ctx context.Context) error {
		// an in-flight transaction is allowed to finish on shutdown
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
		defer cancel()
		return p.writer.WriteBatch(writeCtx, batch)
	})
	if err != nil {
		p.fail(ctx, proxyHostID, kept, attempts, err)
		p.observe("failed", start)
		return result
	}

	result.SuccessCount = len(kept)
	p.stats.RecordSuccess(proxyHostID, len(kept))
	if p.metrics != nil {
		p.metrics.Batches.Records.Add(float64(len(kept)))
		p.metrics.Batches.ConsecutiveErrors.Set(0)
	}
	p.observe("success", start)
	p.archive(ctx, batch)
	return result
}

func (p *Persister) fail(ctx context.Context, proxyHostID int, records []accesslog.LogRecord,
	attempts int, err error) {
	consecutive := p.stats.RecordFailure(len(records))
	if p.metrics != nil {
		p.metrics.Batches.RecordsLost.Add(float64(len(records)))
		p.metrics.Batches.ConsecutiveErrors.Set(float64(consecutive))
	}

	if consecutive <= failureLogBurst || consecutive%failureLogInterval == 0 {
		p.logger.Error("failed to persist batch, dropping records",
			"proxyHostId", proxyHostID,
			"records", len(records),
			"attempts", attempts,
			"consecutiveErrors", consecutive,
			"error", err)
	}

	if p.deadLetter == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	if _, storeErr := p.deadLetter.Store(storeCtx, proxyHostID, records); storeErr != nil {
		p.countArchive(p.deadLetterCounter(), "failed")
		p.logger.Error("failed to store dropped batch in dead-letter bucket",
			"proxyHostId", proxyHostID,
			"records", len(records),
			"error", storeErr)
		return
	}
	p.countArchive(p.deadLetterCounter(), "success")
}

func (p *Persister) archive(ctx context.Context, batch accesslog.Batch) {
	if p.archiver == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	if err := p.archiver.ArchiveBatch(archiveCtx, batch); err != nil {
		p.countArchive(p.mirrorCounter(), "failed")
		p.logger.Warn("failed to mirror batch to analytics store",
			"proxyHostId", batch.ProxyHostID,
			"records", len(batch.Records),
			"error", err)
		return
	}
	p.countArchive(p.mirrorCounter(), "success")
}

func (p *Persister) mirrorCounter() *prometheus.CounterVec {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Archives.Mirrored
}

func (p *Persister) deadLetterCounter() *prometheus.CounterVec {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Archives.DeadLettered
}

func (p *Persister) countArchive(counter *prometheus.CounterVec, status string) {
	if counter != nil {
		counter.WithLabelValues(status).Inc()
	}
}

func (p *Persister) observe(status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.Batches.Persisted.WithLabelValues(status).Inc()
	p.metrics.Batches.Duration.Observe(time.Since(start).Seconds())
}
