package clickhouse

// DatabaseName is the ClickHouse database holding the analytics mirror
const DatabaseName = "log_watcher"

// Table names
const (
	// TableAccessLogs mirrors the raw rows committed to Postgres (MergeTree)
	TableAccessLogs = "access_logs"
)

// DefaultNativePort is the port of the native protocol, used for hosts given without one
const DefaultNativePort = 9000

// DefaultInsertChunkSize bounds the number of rows sent in one INSERT statement
const DefaultInsertChunkSize = 500
