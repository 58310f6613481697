package clickhouse_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/clickhouse"
)

type execCall struct {
	query string
	args  []any
}

type recordingExecer struct {
	calls []execCall
	err   error
}

func (r *recordingExecer) ExecAsync(_ context.Context, query string, args ...any) error {
	r.calls = append(r.calls, execCall{query: query, args: args})
	return r.err
}

func mirrorRecord(url string, status int) accesslog.LogRecord {
	ua := "curl/8.0"
	return accesslog.LogRecord{
		SourceIP:       "203.0.113.9",
		Timestamp:      time.Date(2025, 11, 27, 10, 15, 30, 0, time.FixedZone("CET", 3600)),
		Method:         "GET",
		URL:            url,
		Protocol:       "HTTP/1.1",
		Host:           "shop.example.com",
		StatusCode:     status,
		BytesSent:      512,
		ResponseTimeMs: 12,
		UserAgent:      &ua,
		Raw:            "raw line",
		Format:         accesslog.FormatPrimary,
	}
}

var _ = Describe("Archiver", func() {
	var (
		ctx    context.Context
		execer *recordingExecer
	)

	BeforeEach(func() {
		ctx = context.Background()
		execer = &recordingExecer{}
	})

	It("should insert all rows of a small batch in one statement", func() {
		archiver := clickhouse.NewArchiver(execer, 0)
		batch := accesslog.Batch{
			ProxyHostID: 7,
			Records:     []accesslog.LogRecord{mirrorRecord("/a", 200), mirrorRecord("/b", 404)},
		}

		Expect(archiver.ArchiveBatch(ctx, batch)).To(Succeed())
		Expect(execer.calls).To(HaveLen(1))

		call := execer.calls[0]
		Expect(call.query).To(HavePrefix("INSERT INTO log_watcher.access_logs (timestamp, proxy_host_id"))
		Expect(strings.Count(call.query, "?")).To(Equal(30))
		Expect(call.args).To(HaveLen(30))
	})

	It("should map record fields onto the column order", func() {
		archiver := clickhouse.NewArchiver(execer, 0)
		batch := accesslog.Batch{ProxyHostID: 7, Records: []accesslog.LogRecord{mirrorRecord("/a", 503)}}

		Expect(archiver.ArchiveBatch(ctx, batch)).To(Succeed())

		args := execer.calls[0].args
		Expect(args[0]).To(BeTemporally("==", time.Date(2025, 11, 27, 9, 15, 30, 0, time.UTC)))
		Expect(args[0].(time.Time).Location()).To(Equal(time.UTC))
		Expect(args[1]).To(Equal(uint32(7)))
		Expect(args[2]).To(Equal("203.0.113.9"))
		Expect(args[4]).To(Equal("/a"))
		Expect(args[8]).To(Equal(uint16(503)))
		Expect(args[9]).To(Equal(uint64(512)))
		Expect(args[10]).To(Equal(uint32(12)))
		Expect(args[11]).To(Equal(""))
		Expect(args[12]).To(Equal("curl/8.0"))
		Expect(args[13]).To(Equal("primary"))
		Expect(args[14]).To(Equal("raw line"))
	})

	It("should saturate values out of the column ranges", func() {
		archiver := clickhouse.NewArchiver(execer, 0)
		rec := mirrorRecord("/a", 70000)
		rec.ResponseTimeMs = -5
		rec.BytesSent = -1

		Expect(archiver.ArchiveBatch(ctx, accesslog.Batch{ProxyHostID: 7, Records: []accesslog.LogRecord{rec}})).To(Succeed())

		args := execer.calls[0].args
		Expect(args[8]).To(Equal(uint16(math.MaxUint16)))
		Expect(args[9]).To(Equal(uint64(0)))
		Expect(args[10]).To(Equal(uint32(0)))
	})

	It("should split large batches into chunks", func() {
		archiver := clickhouse.NewArchiver(execer, 2)
		records := make([]accesslog.LogRecord, 5)
		for i := range records {
			records[i] = mirrorRecord("/page", 200)
		}

		Expect(archiver.ArchiveBatch(ctx, accesslog.Batch{ProxyHostID: 3, Records: records})).To(Succeed())
		Expect(execer.calls).To(HaveLen(3))
		Expect(execer.calls[2].args).To(HaveLen(15))
	})

	It("should not execute anything for an empty batch", func() {
		archiver := clickhouse.NewArchiver(execer, 0)
		Expect(archiver.ArchiveBatch(ctx, accesslog.Batch{ProxyHostID: 3})).To(Succeed())
		Expect(execer.calls).To(BeEmpty())
	})

	It("should stop at the first failed chunk", func() {
		execer.err = errors.New("connection reset")
		archiver := clickhouse.NewArchiver(execer, 1)
		batch := accesslog.Batch{
			ProxyHostID: 3,
			Records:     []accesslog.LogRecord{mirrorRecord("/a", 200), mirrorRecord("/b", 200)},
		}

		err := archiver.ArchiveBatch(ctx, batch)
		Expect(err).To(MatchError(ContainSubstring("connection reset")))
		Expect(err.Error()).To(ContainSubstring("proxy host 3"))
		Expect(execer.calls).To(HaveLen(1))
	})
})
