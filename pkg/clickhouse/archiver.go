package clickhouse

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Execer runs an insert statement with async_insert semantics
type Execer interface {
	ExecAsync(ctx context.Context, query string, args ...any) error
}

// Archiver mirrors committed raw rows into ClickHouse for analytics
type Archiver struct {
	exec      Execer
	chunkSize int
}

// NewArchiver creates an archiver writing through exec. A chunkSize of
// zero or less selects DefaultInsertChunkSize.
func NewArchiver(exec Execer, chunkSize int) *Archiver {
	if chunkSize <= 0 {
		chunkSize = DefaultInsertChunkSize
	}
	return &Archiver{exec: exec, chunkSize: chunkSize}
}

// ArchiveBatch inserts the raw rows of batch, chunkSize rows per statement.
// Rollup rows are not mirrored; ClickHouse aggregates at query time.
func (a *Archiver) ArchiveBatch(ctx context.Context, batch accesslog.Batch) error {
	for start := 0; start < len(batch.Records); start += a.chunkSize {
		end := min(start+a.chunkSize, len(batch.Records))
		chunk := batch.Records[start:end]

		query, args := insertStatement(batch.ProxyHostID, chunk)
		if err := a.exec.ExecAsync(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to mirror %d rows for proxy host %d: %w",
				len(chunk), batch.ProxyHostID, err)
		}
	}
	return nil
}

func insertStatement(proxyHostID int, records []accesslog.LogRecord) (string, []any) {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", accessLogsColumnCount), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s (%s) VALUES ", DatabaseName, TableAccessLogs, accessLogsColumns)

	args := make([]any, 0, len(records)*accessLogsColumnCount)
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
		args = append(args, rowValues(proxyHostID, rec)...)
	}
	return b.String(), args
}

func rowValues(proxyHostID int, rec accesslog.LogRecord) []any {
	referer := ""
	if rec.Referer != nil {
		referer = *rec.Referer
	}

	return []any{
		rec.Timestamp.UTC(),
		uint32(clamp(int64(proxyHostID), math.MaxUint32)), //nolint:gosec // clamped
		rec.SourceIP,
		rec.Method,
		rec.URL,
		rec.Protocol,
		rec.Host,
		rec.Upstream,
		uint16(clamp(int64(rec.StatusCode), math.MaxUint16)), //nolint:gosec // clamped
		uint64(max(rec.BytesSent, 0)),
		uint32(clamp(int64(rec.ResponseTimeMs), math.MaxUint32)), //nolint:gosec // clamped
		referer,
		rec.UserAgentOrEmpty(),
		string(rec.Format),
		rec.Raw,
	}
}

// clamp bounds v to [0, limit] so that narrowing conversions saturate
func clamp(v, limit int64) int64 {
	return min(max(v, 0), limit)
}
