package clickhouse

import (
	"context"
	"fmt"
)

// accessLogsColumns is the insert column order used by the Archiver
const accessLogsColumns = "timestamp, proxy_host_id, source_ip, method, url, protocol, host, upstream, " +
	"status_code, bytes_sent, response_time_ms, referer, user_agent, format, raw"

// accessLogsColumnCount must match accessLogsColumns
const accessLogsColumnCount = 15

// SchemaStatements returns the DDL creating the mirror database and tables
func SchemaStatements() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", DatabaseName),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s
		(
			timestamp          DateTime64(3, 'UTC'),
			proxy_host_id      UInt32,
			source_ip          String,
			method             LowCardinality(String),
			url                String,
			protocol           LowCardinality(String),
			host               String,
			upstream           String,
			status_code        UInt16,
			bytes_sent         UInt64,
			response_time_ms   UInt32,
			referer            String,
			user_agent         String,
			format             LowCardinality(String),
			raw                String,

			inserted_at        DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (proxy_host_id, timestamp)
	`, DatabaseName, TableAccessLogs),
	}
}

// EnsureSchema creates the mirror database and tables when missing
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply ClickHouse schema: %w", err)
		}
	}
	return nil
}

// DropSchema removes the mirror tables
func (c *Client) DropSchema(ctx context.Context) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", DatabaseName, TableAccessLogs)
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}
