package watcher

import "github.com/proxyguard/log-watcher/pkg/util"

// ConfigSpec defines all configuration items for log-watcher
//
//nolint:gochecknoglobals // global config spec is intentional
var ConfigSpec = util.ConfigSpec{
	// Log files
	"log-dir": util.ConfigVarSpec{
		Help:         "Directory holding the proxy access logs",
		DefaultValue: "/data/logs",
		EnvVar:       "NPM_LOG_DIR",
	},
	"watcher.interval-ms": util.ConfigVarSpec{
		Help:         "Interval between two polls of the log directory in milliseconds",
		DefaultValue: 1000,
		EnvVar:       "WATCH_INTERVAL",
	},
	"watcher.batch-size": util.ConfigVarSpec{
		Help:         "Maximum number of records persisted in one transaction",
		DefaultValue: 100,
		EnvVar:       "BATCH_SIZE",
	},
	"watcher.stats-interval-ms": util.ConfigVarSpec{
		Help:         "Interval between two statistics reports in milliseconds",
		DefaultValue: 300000,
		EnvVar:       "STATS_INTERVAL",
	},
	"watcher.max-log-age-days": util.ConfigVarSpec{
		Help:         "Records older than this many days are skipped",
		DefaultValue: 7,
		EnvVar:       "MAX_LOG_AGE_DAYS",
	},
	"watcher.max-concurrent-files": util.ConfigVarSpec{
		Help:         "Maximum number of log files processed concurrently",
		DefaultValue: 5,
		EnvVar:       "MAX_CONCURRENT_FILES",
	},
	"watcher.max-read-bytes": util.ConfigVarSpec{
		Help:         "Maximum number of bytes read from one file per poll",
		DefaultValue: 16 * 1024 * 1024,
		EnvVar:       "LOG_WATCHER_MAX_READ_BYTES",
	},
	"watcher.write-timeout-seconds": util.ConfigVarSpec{
		Help:         "Maximum duration of one batch transaction in seconds",
		DefaultValue: 30,
		EnvVar:       "LOG_WATCHER_WRITE_TIMEOUT_SECONDS",
	},

	// Database
	"database.host": util.ConfigVarSpec{
		Help:         "Postgres host",
		DefaultValue: "",
		EnvVar:       "DB_HOST",
	},
	"database.port": util.ConfigVarSpec{
		Help:         "Postgres port",
		DefaultValue: 5432,
		EnvVar:       "DB_PORT",
	},
	"database.user": util.ConfigVarSpec{
		Help:         "Postgres user",
		DefaultValue: "",
		EnvVar:       "DB_USER",
	},
	"database.password": util.ConfigVarSpec{
		Help:         "Postgres password",
		DefaultValue: "",
		EnvVar:       "DB_PASSWORD",
	},
	"database.name": util.ConfigVarSpec{
		Help:         "Postgres database name",
		DefaultValue: "",
		EnvVar:       "DB_NAME",
	},
	"database.pool-size": util.ConfigVarSpec{
		Help:         "Maximum number of pooled database connections",
		DefaultValue: 30,
		EnvVar:       "DB_POOL_SIZE",
	},
	"database.auto-migrate": util.ConfigVarSpec{
		Help:         "Create missing tables and indexes at startup",
		DefaultValue: true,
		EnvVar:       "DB_AUTO_MIGRATE",
	},
	"database.connect-retries": util.ConfigVarSpec{
		Help:         "Number of connection retries at startup",
		DefaultValue: 5,
		EnvVar:       "DB_CONNECT_RETRIES",
	},

	// Batch write retries
	"retry.max-retries": util.ConfigVarSpec{
		Help:         "Number of retries of a batch failing with a transient error",
		DefaultValue: 3,
		EnvVar:       "LOG_WATCHER_MAX_RETRIES",
	},
	"retry.base-delay-ms": util.ConfigVarSpec{
		Help:         "Delay before the first retry in milliseconds, doubled on each retry",
		DefaultValue: 500,
		EnvVar:       "LOG_WATCHER_RETRY_BASE_DELAY_MS",
	},

	// Request screening
	"security.enabled": util.ConfigVarSpec{
		Help:         "Screen records for attacks, rate limit violations and anomalies",
		DefaultValue: true,
		EnvVar:       "SECURITY_ENABLED",
	},
	"security.anomaly-sample-rate": util.ConfigVarSpec{
		Help:         "Fraction of records checked for anomalies",
		DefaultValue: 0.1,
		EnvVar:       "SECURITY_ANOMALY_SAMPLE_RATE",
	},
	"security.workers": util.ConfigVarSpec{
		Help:         "Number of screening workers",
		DefaultValue: 4,
		EnvVar:       "SECURITY_WORKERS",
	},
	"security.queue-size": util.ConfigVarSpec{
		Help:         "Number of records waiting for screening before new ones are dropped",
		DefaultValue: 1024,
		EnvVar:       "SECURITY_QUEUE_SIZE",
	},
	"security.rate-limit-max-requests": util.ConfigVarSpec{
		Help:         "Requests per window above which an address violates the rate limit",
		DefaultValue: 100,
		EnvVar:       "SECURITY_RATE_LIMIT_MAX_REQUESTS",
	},
	"security.rate-limit-window-seconds": util.ConfigVarSpec{
		Help:         "Rate limit window in seconds",
		DefaultValue: 60,
		EnvVar:       "SECURITY_RATE_LIMIT_WINDOW_SECONDS",
	},

	// Proxy manager
	"npm.api-url": util.ConfigVarSpec{
		Help:         "Proxy manager API URL",
		DefaultValue: "",
		EnvVar:       "NPM_API_URL",
	},
	"npm.username": util.ConfigVarSpec{
		Help:         "Proxy manager API user",
		DefaultValue: "",
		EnvVar:       "NPM_USERNAME",
	},
	"npm.password": util.ConfigVarSpec{
		Help:         "Proxy manager API password",
		DefaultValue: "",
		EnvVar:       "NPM_PASSWORD",
	},
	"npm.host-map-ttl-seconds": util.ConfigVarSpec{
		Help:         "How long the domain to proxy host map is cached in seconds",
		DefaultValue: 60,
		EnvVar:       "NPM_HOST_MAP_TTL_SECONDS",
	},

	// Status probing
	"status-check.enabled": util.ConfigVarSpec{
		Help:         "Probe every proxy host daily",
		DefaultValue: false,
		EnvVar:       "STATUS_CHECK_ENABLED",
	},
	"status-check.hour": util.ConfigVarSpec{
		Help:         "Local hour of the daily probe",
		DefaultValue: 2,
		EnvVar:       "STATUS_CHECK_HOUR",
	},
	"status-check.timeout-seconds": util.ConfigVarSpec{
		Help:         "Timeout of one probe in seconds",
		DefaultValue: 10,
		EnvVar:       "STATUS_CHECK_TIMEOUT_SECONDS",
	},
	"status-check.pace-ms": util.ConfigVarSpec{
		Help:         "Minimum delay between two probes in milliseconds",
		DefaultValue: 500,
		EnvVar:       "STATUS_CHECK_PACE_MS",
	},

	// Webhook ingestion
	"ingest.enabled": util.ConfigVarSpec{
		Help:         "Serve the traffic ingestion endpoints",
		DefaultValue: false,
		EnvVar:       "INGEST_ENABLED",
	},
	"ingest.listen-address": util.ConfigVarSpec{
		Help:         "Ingestion server listen address",
		DefaultValue: "0.0.0.0",
		EnvVar:       "INGEST_LISTEN_ADDRESS",
	},
	"ingest.listen-port": util.ConfigVarSpec{
		Help:         "Ingestion server listen port",
		DefaultValue: 3001,
		EnvVar:       "INGEST_LISTEN_PORT",
	},

	// ClickHouse analytics mirror
	"clickhouse.enabled": util.ConfigVarSpec{
		Help:         "Mirror persisted records to ClickHouse",
		DefaultValue: false,
		EnvVar:       "LOG_WATCHER_CLICKHOUSE_ENABLED",
	},
	"clickhouse.url": util.ConfigVarSpec{
		Help:         "Comma-separated ClickHouse hosts (host:port)",
		DefaultValue: "localhost:9000",
		EnvVar:       "LOG_WATCHER_CLICKHOUSE_URL",
	},
	"clickhouse.username": util.ConfigVarSpec{
		Help:         "ClickHouse username",
		DefaultValue: "default",
		EnvVar:       "LOG_WATCHER_CLICKHOUSE_USERNAME",
	},
	"clickhouse.password": util.ConfigVarSpec{
		Help:         "ClickHouse password",
		DefaultValue: "",
		EnvVar:       "LOG_WATCHER_CLICKHOUSE_PASSWORD",
	},
	"clickhouse.timeout-seconds": util.ConfigVarSpec{
		Help:         "ClickHouse query timeout in seconds",
		DefaultValue: 30,
		EnvVar:       "LOG_WATCHER_CLICKHOUSE_TIMEOUT_SECONDS",
	},

	// Dead-letter archive
	"deadletter.enabled": util.ConfigVarSpec{
		Help:         "Upload batches dropped after exhausting retries to S3",
		DefaultValue: false,
		EnvVar:       "LOG_WATCHER_DEADLETTER_ENABLED",
	},
	"deadletter.bucket": util.ConfigVarSpec{
		Help:         "Dead-letter bucket",
		DefaultValue: "",
		EnvVar:       "LOG_WATCHER_DEADLETTER_BUCKET",
	},
	"deadletter.prefix": util.ConfigVarSpec{
		Help:         "Dead-letter object key prefix",
		DefaultValue: "deadletter/",
		EnvVar:       "LOG_WATCHER_DEADLETTER_PREFIX",
	},
	"s3.endpoint": util.ConfigVarSpec{
		Help:         "S3 endpoint URL",
		DefaultValue: "",
		EnvVar:       "S3_ENDPOINT",
	},
	"s3.region": util.ConfigVarSpec{
		Help:         "S3 region",
		DefaultValue: "us-east-1",
		EnvVar:       "S3_REGION",
	},
	"s3.access-key-id": util.ConfigVarSpec{
		Help:         "S3 access key ID",
		DefaultValue: "",
		EnvVar:       "S3_ACCESS_KEY_ID",
	},
	"s3.secret-access-key": util.ConfigVarSpec{
		Help:         "S3 secret access key",
		DefaultValue: "",
		EnvVar:       "S3_SECRET_ACCESS_KEY",
	},
	"s3.max-retry-attempts": util.ConfigVarSpec{
		Help:         "Maximum number of S3 request attempts",
		DefaultValue: 3,
		EnvVar:       "S3_MAX_RETRY_ATTEMPTS",
	},

	// Metrics
	"metrics-server.enabled": util.ConfigVarSpec{
		Help:         "Serve Prometheus metrics",
		DefaultValue: true,
		EnvVar:       "LOG_WATCHER_METRICS_SERVER_ENABLED",
	},
	"metrics-server.listen-address": util.ConfigVarSpec{
		Help:         "Metrics server listen address",
		DefaultValue: "0.0.0.0",
		EnvVar:       "LOG_WATCHER_METRICS_SERVER_LISTEN_ADDRESS",
	},
	"metrics-server.listen-port": util.ConfigVarSpec{
		Help:         "Metrics server listen port",
		DefaultValue: 9090,
		EnvVar:       "LOG_WATCHER_METRICS_SERVER_LISTEN_PORT",
	},

	// General
	"log-level": util.ConfigVarSpec{
		Help:         "Log level (error|warn|info|debug)",
		DefaultValue: "info",
		EnvVar:       "LOG_WATCHER_LOG_LEVEL",
	},
	"shutdown-timeout-seconds": util.ConfigVarSpec{
		Help:         "Maximum time to wait for in-flight work on shutdown in seconds",
		DefaultValue: 30,
		EnvVar:       "LOG_WATCHER_SHUTDOWN_TIMEOUT_SECONDS",
	},
}
