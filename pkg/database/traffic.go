package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/security"
)

const insertAccessLogSQL = `
	INSERT INTO access_logs
		(proxy_host_id, url, method, status_code, ip_address, user_agent, referer,
		 bytes_sent, response_time_ms, log_timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (proxy_host_id, log_timestamp, url, ip_address, method) DO NOTHING`

const upsertMinuteSQL = `
	INSERT INTO realtime_traffic (proxy_host_id, "timestamp", request_count, response_time_ms)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (proxy_host_id, "timestamp") DO UPDATE SET
		request_count = realtime_traffic.request_count + EXCLUDED.request_count,
		response_time_ms = (realtime_traffic.response_time_ms + EXCLUDED.response_time_ms) / 2`

const upsertHourSQL = `
	INSERT INTO traffic_stats
		(proxy_host_id, "timestamp", request_count, bytes_sent, avg_response_time_ms,
		 status_2xx, status_4xx, status_5xx)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (proxy_host_id, "timestamp") DO UPDATE SET
		request_count = traffic_stats.request_count + EXCLUDED.request_count,
		bytes_sent = traffic_stats.bytes_sent + EXCLUDED.bytes_sent,
		avg_response_time_ms = (traffic_stats.avg_response_time_ms + EXCLUDED.avg_response_time_ms) / 2,
		status_2xx = traffic_stats.status_2xx + EXCLUDED.status_2xx,
		status_4xx = traffic_stats.status_4xx + EXCLUDED.status_4xx,
		status_5xx = traffic_stats.status_5xx + EXCLUDED.status_5xx`

// TrafficRepository writes request records and their rollups, and
// answers the per-address queries used by request screening
type TrafficRepository struct {
	pool *pgxpool.Pool
}

// NewTrafficRepository creates a traffic repository on the client pool
func NewTrafficRepository(client *Client) *TrafficRepository {
	return &TrafficRepository{pool: client.Pool()}
}

// WriteBatch stores the raw rows and applies the minute and hour rollup
// increments of batch in a single transaction. Raw rows already stored
// are skipped; rollups are always incremented.
func (r *TrafficRepository) WriteBatch(ctx context.Context, batch accesslog.Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}

	queued := &pgx.Batch{}
	for i := range batch.Records {
		rec := batch.Records[i].Truncated()
		queued.Queue(insertAccessLogSQL,
			batch.ProxyHostID,
			rec.URL,
			rec.Method,
			rec.StatusCode,
			rec.SourceIP,
			rec.UserAgent,
			rec.Referer,
			rec.BytesSent,
			rec.ResponseTimeMs,
			rec.Timestamp,
		)
	}
	// Buckets are sorted by start time so concurrent writers lock rollup
	// rows in the same order
	for _, m := range batch.Minutes {
		queued.Queue(upsertMinuteSQL, m.ProxyHostID, m.Start, m.RequestCount, m.ResponseTimeMs)
	}
	for _, h := range batch.Hours {
		queued.Queue(upsertHourSQL,
			h.ProxyHostID,
			h.Start,
			h.RequestCount,
			h.BytesSent,
			h.AvgResponseTimeMs,
			h.Status2xx,
			h.Status4xx,
			h.Status5xx,
		)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, queued).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to write batch for proxy host %d: %w", batch.ProxyHostID, err)
	}
	return nil
}

// CountRecentRequests counts the stored requests of ip created since
func (r *TrafficRepository) CountRecentRequests(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM access_logs
		WHERE ip_address = $1 AND created_at >= $2`,
		ip, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// IPWindowStats summarises the stored requests of ip created since
func (r *TrafficRepository) IPWindowStats(ctx context.Context, ip string, since time.Time) (security.IPStats, error) {
	var stats security.IPStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(response_time_ms), 0)::float8,
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)::float8 * 100
				/ NULLIF(COUNT(*), 0), 0)::float8,
			COUNT(DISTINCT url)
		FROM access_logs
		WHERE ip_address = $1 AND created_at >= $2`,
		ip, since,
	).Scan(&stats.TotalRequests, &stats.AvgResponseTimeMs, &stats.ErrorRate, &stats.DistinctURLs)
	if err != nil {
		return security.IPStats{}, fmt.Errorf("failed to compute address statistics: %w", err)
	}
	return stats, nil
}

// MeanRequestsPerIP is the mean request count per distinct address over
// the requests created since
func (r *TrafficRepository) MeanRequestsPerIP(ctx context.Context, since time.Time) (float64, error) {
	var mean float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(request_count), 0)::float8
		FROM (
			SELECT COUNT(*) AS request_count
			FROM access_logs
			WHERE created_at >= $1
			GROUP BY ip_address
		) AS ip_stats`,
		since,
	).Scan(&mean)
	if err != nil {
		return 0, fmt.Errorf("failed to compute mean requests per address: %w", err)
	}
	return mean, nil
}
