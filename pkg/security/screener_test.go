package security_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/security"
)

var _ = Describe("Screener", func() {
	var (
		store   *memoryStore
		metrics *security.Metrics
		logger  *slog.Logger
	)

	newScreener := func(sample float64, workers, queue int) *security.Screener {
		now := func() time.Time { return time.Date(2025, 11, 27, 12, 0, 0, 0, time.UTC) }
		blocker := security.NewAutoBlocklistManager(store, store, now, logger)
		return security.NewScreener(security.ScreenerConfig{
			Threats: security.NewThreatDetector(store, blocker, now, logger),
			RateLimiter: security.NewRateLimiter(security.RateLimiterConfig{
				Stats: store, Events: store, Blocker: blocker, Now: now, Logger: logger,
			}),
			Anomalies:         security.NewAnomalyDetector(store, store, time.Hour, now, logger),
			Workers:           workers,
			QueueSize:         queue,
			AnomalySampleRate: 0.1,
			Sample:            func() float64 { return sample },
			Metrics:           metrics,
			Logger:            logger,
		})
	}

	BeforeEach(func() {
		store = newMemoryStore()
		metrics = security.NewMetricsWithRegistry(prometheus.NewRegistry())
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("should run every check synchronously with Screen", func() {
		store.requestCount = 500
		store.ipStats = security.IPStats{TotalRequests: 500}
		store.meanRequests = 10
		screener := newScreener(0.05, 1, 1)
		defer screener.Close()

		rec := &accesslog.LogRecord{SourceIP: "1.2.3.4", URL: "/?id=1'", Method: "GET"}
		outcome := screener.Screen(context.Background(), 7, rec)

		Expect(outcome.Errors).To(BeEmpty())
		Expect(outcome.Threat.Type).To(Equal(security.EventSQLInjection))
		Expect(outcome.RateLimit.Exceeded).To(BeTrue())
		Expect(outcome.AnomalyChecked).To(BeTrue())
		Expect(outcome.Anomalies).NotTo(BeEmpty())
		Expect(testutil.ToFloat64(metrics.ThreatsDetected.WithLabelValues("SQL_INJECTION"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.RateLimitViolations)).To(Equal(1.0))
	})

	It("should skip the anomaly check when the record is not sampled", func() {
		screener := newScreener(0.5, 1, 1)
		defer screener.Close()

		outcome := screener.Screen(context.Background(), 7, &accesslog.LogRecord{SourceIP: "1.1.1.1", URL: "/"})
		Expect(outcome.AnomalyChecked).To(BeFalse())
	})

	It("should keep going and report errors when storage fails", func() {
		store.failStats = true
		store.failInserts = true
		screener := newScreener(0.0, 1, 1)
		defer screener.Close()

		outcome := screener.Screen(context.Background(), 7, &accesslog.LogRecord{SourceIP: "1.1.1.1", URL: "/?x='"})
		Expect(outcome.Threat.Detected).To(BeTrue())
		Expect(outcome.Errors).To(HaveLen(3))
		Expect(testutil.ToFloat64(metrics.ScreeningErrors.WithLabelValues("threat"))).To(Equal(1.0))
	})

	It("should screen submitted records in the background and drain on Close", func() {
		screener := newScreener(1.0, 2, 16)
		for i := 0; i < 5; i++ {
			Expect(screener.Submit(7, accesslog.LogRecord{SourceIP: "2.2.2.2", URL: "/?q=<script>x</script>"})).To(BeTrue())
		}
		screener.Close()

		Expect(store.eventsOfType(security.EventXSS)).To(HaveLen(5))
		Expect(screener.Submit(7, accesslog.LogRecord{})).To(BeFalse())
	})

	It("should drop records instead of blocking when the queue is full", func() {
		blockedStore := newMemoryStore()
		release := make(chan struct{})
		slow := &slowEvents{memoryStore: blockedStore, release: release}
		now := func() time.Time { return time.Now() }
		blocker := security.NewAutoBlocklistManager(slow, slow, now, logger)
		screener := security.NewScreener(security.ScreenerConfig{
			Threats:   security.NewThreatDetector(slow, blocker, now, logger),
			Workers:   1,
			QueueSize: 1,
			Metrics:   metrics,
			Logger:    logger,
		})

		rec := accesslog.LogRecord{SourceIP: "3.3.3.3", URL: "/?a='"}
		accepted := 0
		for i := 0; i < 10; i++ {
			if screener.Submit(1, rec) {
				accepted++
			}
		}
		Expect(accepted).To(BeNumerically("<=", 2))
		Expect(testutil.ToFloat64(metrics.ScreeningDropped)).To(BeNumerically(">=", 8))

		close(release)
		screener.Close()
	})
})

// slowEvents blocks every insert until release is closed
type slowEvents struct {
	*memoryStore
	release chan struct{}
}

func (s *slowEvents) InsertEvent(ctx context.Context, event security.SecurityEvent) error {
	<-s.release
	return s.memoryStore.InsertEvent(ctx, event)
}
