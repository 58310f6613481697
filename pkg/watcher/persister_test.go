package watcher_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/database"
	"github.com/proxyguard/log-watcher/pkg/watcher"
)

type recordingArchiver struct {
	mu      sync.Mutex
	batches []accesslog.Batch
	err     error
}

func (r *recordingArchiver) ArchiveBatch(_ context.Context, batch accesslog.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

type recordingDeadLetter struct {
	mu      sync.Mutex
	records map[int][]accesslog.LogRecord
	err     error
}

func (r *recordingDeadLetter) Store(_ context.Context, proxyHostID int, records []accesslog.LogRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if r.records == nil {
		r.records = make(map[int][]accesslog.LogRecord)
	}
	r.records[proxyHostID] = append(r.records[proxyHostID], records...)
	return "key", nil
}

var _ = Describe("Persister", func() {
	var (
		ctx      context.Context
		now      time.Time
		writer   *memoryWriter
		sleeper  *noSleep
		metrics  *watcher.Metrics
		stats    *watcher.Stats
		logs     *bytes.Buffer
		deadlock error
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 11, 27, 10, 30, 0, 0, time.UTC)
		writer = newMemoryWriter()
		sleeper = &noSleep{}
		metrics = watcher.NewMetricsWithRegistry(prometheus.NewRegistry())
		stats = watcher.NewStats(func() time.Time { return now })
		logs = &bytes.Buffer{}
		deadlock = &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	})

	newPersister := func(archiver watcher.Archiver, deadLetter watcher.DeadLetterSink) *watcher.Persister {
		return watcher.NewPersister(watcher.PersisterConfig{
			Writer:     writer,
			Archiver:   archiver,
			DeadLetter: deadLetter,
			Retry: watcher.RetryPolicy{
				MaxRetries: watcher.DefaultMaxRetries,
				BaseDelay:  watcher.DefaultRetryBaseDelay,
				Retryable:  database.IsTransientError,
				Sleep:      sleeper.Sleep,
			},
			MaxLogAge: 7 * 24 * time.Hour,
			Now:       func() time.Time { return now },
			Stats:     stats,
			Metrics:   metrics,
			Logger:    bufferLogger(logs),
		})
	}

	records := func(ts ...time.Time) []accesslog.LogRecord {
		var out []accesslog.LogRecord
		for i, t := range ts {
			out = append(out, accesslog.LogRecord{
				ProxyHostID: 7,
				SourceIP:    "10.0.0.1",
				Timestamp:   t,
				Method:      "GET",
				URL:         "/page/" + string(rune('a'+i)),
				StatusCode:  200,
				Raw:         "line " + string(rune('a'+i)),
			})
		}
		return out
	}

	It("should persist a batch and count the records per host", func() {
		persister := newPersister(nil, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute), now.Add(-time.Minute)))
		Expect(result).To(Equal(watcher.BatchResult{SuccessCount: 2, TotalCount: 2}))
		Expect(writer.rawCount(7)).To(Equal(2))

		snapshot := stats.Snapshot()
		Expect(snapshot.LinesProcessed).To(Equal(int64(2)))
		Expect(snapshot.Hosts).To(ConsistOf(watcher.HostStats{ProxyHostID: 7, Count: 2, LastAccess: now}))
		Expect(testutil.ToFloat64(metrics.Batches.Persisted.WithLabelValues("success"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.Batches.Records)).To(Equal(2.0))
	})

	It("should skip records older than the maximum age without writing", func() {
		persister := newPersister(nil, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-8*24*time.Hour)))
		Expect(result).To(Equal(watcher.BatchResult{TotalCount: 1, SkippedCount: 1}))
		Expect(writer.callCount()).To(Equal(0))
		Expect(stats.Snapshot().Skipped).To(Equal(int64(1)))
		Expect(testutil.ToFloat64(metrics.Batches.RecordsSkipped)).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.Batches.Persisted.WithLabelValues("empty"))).To(Equal(1.0))
	})

	It("should persist fresh records of a batch holding stale ones", func() {
		persister := newPersister(nil, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-8*24*time.Hour), now.Add(-time.Hour)))
		Expect(result).To(Equal(watcher.BatchResult{SuccessCount: 1, TotalCount: 2, SkippedCount: 1}))
		Expect(writer.rawCount(7)).To(Equal(1))
	})

	It("should retry deadlocks and persist the batch without counting an error", func() {
		writer.failNext(deadlock, deadlock)
		persister := newPersister(nil, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(result.SuccessCount).To(Equal(1))
		Expect(writer.callCount()).To(Equal(3))
		Expect(writer.rawCount(7)).To(Equal(1))
		Expect(sleeper.recorded()).To(Equal([]time.Duration{500 * time.Millisecond, time.Second}))
		Expect(stats.ConsecutiveErrors()).To(Equal(0))
		Expect(stats.Snapshot().Errors).To(Equal(int64(0)))
		Expect(testutil.ToFloat64(metrics.Batches.Retries)).To(Equal(2.0))
	})

	It("should drop the batch once retries are exhausted", func() {
		writer.failNext(deadlock, deadlock, deadlock, deadlock)
		deadLetter := &recordingDeadLetter{}
		persister := newPersister(nil, deadLetter)

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute), now.Add(-2*time.Minute)))
		Expect(result).To(Equal(watcher.BatchResult{TotalCount: 2}))
		Expect(writer.callCount()).To(Equal(4))
		Expect(stats.ConsecutiveErrors()).To(Equal(1))
		Expect(stats.Snapshot().Errors).To(Equal(int64(2)))
		Expect(deadLetter.records[7]).To(HaveLen(2))
		Expect(testutil.ToFloat64(metrics.Batches.RecordsLost)).To(Equal(2.0))
		Expect(testutil.ToFloat64(metrics.Archives.DeadLettered.WithLabelValues("success"))).To(Equal(1.0))
	})

	It("should not retry a permanent error", func() {
		writer.failNext(&pgconn.PgError{Code: "23502", Message: "null value in column"})
		persister := newPersister(nil, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(result.SuccessCount).To(Equal(0))
		Expect(writer.callCount()).To(Equal(1))
		Expect(stats.ConsecutiveErrors()).To(Equal(1))
	})

	It("should reset the failure streak on success", func() {
		persister := newPersister(nil, nil)
		writer.failNext(errors.New("connection refused"))
		persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(stats.ConsecutiveErrors()).To(Equal(1))

		persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(stats.ConsecutiveErrors()).To(Equal(0))
		Expect(testutil.ToFloat64(metrics.Batches.ConsecutiveErrors)).To(Equal(0.0))
	})

	It("should log the first five failures of a streak and then every tenth", func() {
		persister := newPersister(nil, nil)
		for i := 0; i < 20; i++ {
			writer.failNext(errors.New("connection refused"))
			persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		}

		logged := strings.Count(logs.String(), "failed to persist batch")
		// failures 1 to 5, 10 and 20
		Expect(logged).To(Equal(7))
		Expect(stats.ConsecutiveErrors()).To(Equal(20))
	})

	It("should keep going when the dead-letter upload fails", func() {
		writer.failNext(errors.New("connection refused"))
		persister := newPersister(nil, &recordingDeadLetter{err: errors.New("access denied")})

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(result.SuccessCount).To(Equal(0))
		Expect(testutil.ToFloat64(metrics.Archives.DeadLettered.WithLabelValues("failed"))).To(Equal(1.0))
	})

	It("should mirror persisted batches to the archiver", func() {
		archiver := &recordingArchiver{}
		persister := newPersister(archiver, nil)

		persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(archiver.batches).To(HaveLen(1))
		Expect(archiver.batches[0].ProxyHostID).To(Equal(7))
		Expect(testutil.ToFloat64(metrics.Archives.Mirrored.WithLabelValues("success"))).To(Equal(1.0))
	})

	It("should report a persisted batch even when mirroring fails", func() {
		archiver := &recordingArchiver{err: errors.New("clickhouse unavailable")}
		persister := newPersister(archiver, nil)

		result := persister.Persist(ctx, 7, records(now.Add(-time.Minute)))
		Expect(result.SuccessCount).To(Equal(1))
		Expect(testutil.ToFloat64(metrics.Archives.Mirrored.WithLabelValues("failed"))).To(Equal(1.0))
	})
})
