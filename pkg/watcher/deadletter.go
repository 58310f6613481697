package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/s3"
)

// DefaultDeadLetterPrefix is the default key prefix of dead-letter objects
const DefaultDeadLetterPrefix = "deadletter/"

// deadLetterTimeFormat is the timestamp layout used in object keys
const deadLetterTimeFormat = "2006-01-02-15-04-05"

// DeadLetter uploads the records of dropped batches so that they can be
// replayed later
type DeadLetter struct {
	uploader s3.UploaderInterface
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	bucket   string
	prefix   string
}

// DeadLetterConfig holds dead-letter configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type DeadLetterConfig struct {
	Uploader s3.UploaderInterface
	Bucket   string
	Prefix   string
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewDeadLetter creates a dead-letter sink
func NewDeadLetter(cfg DeadLetterConfig) *DeadLetter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &DeadLetter{
		uploader: cfg.Uploader,
		bucket:   cfg.Bucket,
		prefix:   prefix,
		now:      now,
		newID:    func() string { return uuid.NewString() },
		logger:   cfg.Logger,
	}
}

// ObjectKey returns the key of a dead-letter object created at t
func (d *DeadLetter) ObjectKey(proxyHostID int, t time.Time, id string) string {
	return fmt.Sprintf("%sproxy-host-%d/%s-%s.log",
		d.prefix, proxyHostID, t.UTC().Format(deadLetterTimeFormat), id)
}

// Store uploads records as one object holding a line per record
func (d *DeadLetter) Store(ctx context.Context, proxyHostID int, records []accesslog.LogRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	key := d.ObjectKey(proxyHostID, d.now(), d.newID())
	if err := d.uploader.Upload(ctx, d.bucket, key, RenderLines(records)); err != nil {
		return "", err
	}
	d.logger.Info("dropped batch stored in dead-letter bucket",
		"proxyHostId", proxyHostID,
		"bucket", d.bucket,
		"key", key,
		"records", len(records))
	return key, nil
}

// RenderLines returns the original line of every record. Records that
// did not come from a log line are written in combined log format.
func RenderLines(records []accesslog.LogRecord) []byte {
	var sb strings.Builder
	for i := range records {
		rec := &records[i]
		if rec.Raw != "" {
			sb.WriteString(rec.Raw)
		} else {
			sb.WriteString(combinedLine(rec))
		}
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func combinedLine(rec *accesslog.LogRecord) string {
	referer := "-"
	if rec.Referer != nil {
		referer = *rec.Referer
	}
	userAgent := "-"
	if rec.UserAgent != nil {
		userAgent = *rec.UserAgent
	}
	return fmt.Sprintf("%s - - [%s] %q %d %d %q %q",
		rec.SourceIP,
		rec.Timestamp.Format(accesslog.TimestampLayout),
		rec.Method+" "+rec.URL+" "+rec.Protocol,
		rec.StatusCode,
		rec.BytesSent,
		referer,
		userAgent)
}
