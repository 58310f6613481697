package security

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Screener defaults
const (
	DefaultScreenerWorkers   = 4
	DefaultScreenerQueueSize = 1024
	DefaultAnomalySampleRate = 0.1
	DefaultScreenJobTimeout  = 10 * time.Second
)

// Outcome is the result of screening one record. Screening is best
// effort: a failed step is reported in Errors and does not stop the
// remaining steps.
type Outcome struct {
	Threat    Threat
	RateLimit RateLimitResult
	Anomalies []Anomaly
	// AnomalyChecked is false when the record was not sampled
	AnomalyChecked bool
	Errors         []error
}

// ScreenerConfig holds screener configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type ScreenerConfig struct {
	Threats     *ThreatDetector
	RateLimiter *RateLimiter
	Anomalies   *AnomalyDetector

	Workers           int
	QueueSize         int
	AnomalySampleRate float64
	JobTimeout        time.Duration

	// Sample returns a value in [0, 1); records are checked for
	// anomalies when it is below AnomalySampleRate
	Sample func() float64

	Metrics *Metrics
	Logger  *slog.Logger
}

type screenJob struct {
	proxyHostID int
	record      accesslog.LogRecord
}

// Screener runs threat, rate limit and sampled anomaly checks on
// records. Submit hands records to a bounded worker pool and never
// blocks the caller.
type Screener struct {
	threats     *ThreatDetector
	rateLimiter *RateLimiter
	anomalies   *AnomalyDetector

	sampleRate float64
	sample     func() float64
	jobTimeout time.Duration
	metrics    *Metrics
	logger     *slog.Logger

	queue chan screenJob
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewScreener creates a screener and starts its workers
func NewScreener(cfg ScreenerConfig) *Screener {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultScreenerWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultScreenerQueueSize
	}
	sample := cfg.Sample
	if sample == nil {
		//nolint:gosec // sampling does not need a cryptographic source
		sample = rand.Float64
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultScreenJobTimeout
	}

	s := &Screener{
		threats:     cfg.Threats,
		rateLimiter: cfg.RateLimiter,
		anomalies:   cfg.Anomalies,
		sampleRate:  cfg.AnomalySampleRate,
		sample:      sample,
		jobTimeout:  jobTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		queue:       make(chan screenJob, queueSize),
	}

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Screener) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		s.Screen(ctx, job.proxyHostID, &job.record)
		cancel()
	}
}

// Submit queues a record for asynchronous screening. It returns false
// when the record was dropped because the queue is full or the
// screener is closed.
func (s *Screener) Submit(proxyHostID int, rec accesslog.LogRecord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- screenJob{proxyHostID: proxyHostID, record: rec}:
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
		}
		return true
	default:
		if s.metrics != nil {
			s.metrics.ScreeningDropped.Inc()
		}
		return false
	}
}

// Screen runs every check on rec synchronously
func (s *Screener) Screen(ctx context.Context, proxyHostID int, rec *accesslog.LogRecord) Outcome {
	var outcome Outcome

	if s.threats != nil {
		threat, err := s.threats.Inspect(ctx, proxyHostID, rec)
		outcome.Threat = threat
		if threat.Detected && s.metrics != nil {
			s.metrics.ThreatsDetected.WithLabelValues(string(threat.Type)).Inc()
		}
		s.recordError(&outcome, "threat", rec, err)
	}

	if s.rateLimiter != nil {
		result, err := s.rateLimiter.Enforce(ctx, proxyHostID, rec)
		outcome.RateLimit = result
		if result.Exceeded && s.metrics != nil {
			s.metrics.RateLimitViolations.Inc()
		}
		s.recordError(&outcome, "rate_limit", rec, err)
	}

	if s.anomalies != nil && s.sample() < s.sampleRate {
		outcome.AnomalyChecked = true
		anomalies, err := s.anomalies.Inspect(ctx, proxyHostID, rec)
		outcome.Anomalies = anomalies
		if s.metrics != nil {
			for _, anomaly := range anomalies {
				s.metrics.AnomaliesDetected.WithLabelValues(string(anomaly.Kind)).Inc()
			}
		}
		s.recordError(&outcome, "anomaly", rec, err)
	}

	return outcome
}

func (s *Screener) recordError(outcome *Outcome, step string, rec *accesslog.LogRecord, err error) {
	if err == nil {
		return
	}
	outcome.Errors = append(outcome.Errors, err)
	if s.metrics != nil {
		s.metrics.ScreeningErrors.WithLabelValues(step).Inc()
	}
	s.logger.Debug("screening step failed",
		"step", step,
		"ip", rec.SourceIP,
		"error", err)
}

// Close stops accepting records and waits for queued ones to be screened
func (s *Screener) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}
