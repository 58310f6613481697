package watcher_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/watcher"
)

type recordingUploader struct {
	bucket  string
	key     string
	content []byte
	err     error
}

func (r *recordingUploader) Upload(_ context.Context, bucket, key string, content []byte) error {
	r.bucket = bucket
	r.key = key
	r.content = content
	return r.err
}

var _ = Describe("DeadLetter", func() {
	var (
		now      time.Time
		uploader *recordingUploader
		sink     *watcher.DeadLetter
	)

	BeforeEach(func() {
		now = time.Date(2025, 11, 27, 10, 30, 5, 0, time.UTC)
		uploader = &recordingUploader{}
		sink = watcher.NewDeadLetter(watcher.DeadLetterConfig{
			Uploader: uploader,
			Bucket:   "watcher-deadletter",
			Prefix:   "dropped",
			Now:      func() time.Time { return now },
			Logger:   discardLogger(),
		})
	})

	It("should build keys per proxy host and time", func() {
		Expect(sink.ObjectKey(7, now, "abc")).To(Equal("dropped/proxy-host-7/2025-11-27-10-30-05-abc.log"))
	})

	It("should upload the original lines", func() {
		records := []accesslog.LogRecord{{Raw: "first line"}, {Raw: "second line"}}

		key, err := sink.Store(context.Background(), 7, records)
		Expect(err).NotTo(HaveOccurred())
		Expect(uploader.bucket).To(Equal("watcher-deadletter"))
		Expect(uploader.key).To(Equal(key))
		Expect(key).To(MatchRegexp(`^dropped/proxy-host-7/2025-11-27-10-30-05-[0-9a-f-]{36}\.log$`))
		Expect(string(uploader.content)).To(Equal("first line\nsecond line\n"))
	})

	It("should render structured records in combined log format", func() {
		ua := "curl/8.0"
		records := []accesslog.LogRecord{{
			SourceIP:   "10.0.0.1",
			Timestamp:  time.Date(2025, 11, 27, 10, 0, 0, 0, time.UTC),
			Method:     "GET",
			URL:        "/health",
			Protocol:   "HTTP/1.1",
			StatusCode: 200,
			BytesSent:  12,
			UserAgent:  &ua,
		}}

		line := strings.TrimSpace(string(watcher.RenderLines(records)))
		Expect(line).To(Equal(`10.0.0.1 - - [27/Nov/2025:10:00:00 +0000] "GET /health HTTP/1.1" 200 12 "-" "curl/8.0"`))

		rec, ok := accesslog.NewParser().Parse(line)
		Expect(ok).To(BeTrue())
		Expect(rec.URL).To(Equal("/health"))
		Expect(rec.StatusCode).To(Equal(200))
	})

	It("should not upload empty batches", func() {
		key, err := sink.Store(context.Background(), 7, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(BeEmpty())
		Expect(uploader.key).To(BeEmpty())
	})

	It("should return upload errors", func() {
		uploader.err = errors.New("access denied")
		_, err := sink.Store(context.Background(), 7, []accesslog.LogRecord{{Raw: "line"}})
		Expect(err).To(MatchError(ContainSubstring("access denied")))
	})
})
