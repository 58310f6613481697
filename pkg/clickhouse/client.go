package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultMaxOpenConns bounds the connections opened by the mirror
const DefaultMaxOpenConns = 4

// Client wraps the ClickHouse connection used by the analytics mirror
type Client struct {
	conn            driver.Conn
	waitAsyncInsert bool
}

// Config holds ClickHouse connection configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	Hosts    []string
	Username string
	Password string
	Timeout  time.Duration // Used for DialTimeout and ReadTimeout

	MaxOpenConns int
	// WaitAsyncInsert makes ExecAsync return only once the rows are flushed
	WaitAsyncInsert bool

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

func (cfg Config) options() *clickhouse.Options {
	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	return &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: maxOpenConns,
		DialTimeout:  cfg.Timeout,
		// ReadTimeout bounds query execution
		ReadTimeout: cfg.Timeout,
	}
}

// NewClient connects to ClickHouse, retrying with exponential backoff
// until a ping succeeds. MaxRetries counts the retries after the first
// attempt.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("at least one host must be provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	options := cfg.options()
	maxAttempts := cfg.MaxRetries + 1
	backoff := cfg.InitialBackoff

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			logger.Info("retrying ClickHouse connection after backoff",
				"attempt", attempt+1,
				"backoffSeconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}

			backoff = min(backoff*2, cfg.MaxBackoff)
		}

		var conn driver.Conn
		conn, err = dial(ctx, options)
		if err == nil {
			return &Client{conn: conn, waitAsyncInsert: cfg.WaitAsyncInsert}, nil
		}

		if attempt < maxAttempts-1 {
			logger.Warn("failed to connect to ClickHouse, will retry",
				"attempt", attempt+1,
				"error", err)
		}
	}

	return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", maxAttempts, err)
}

// dial opens a connection and pings it
func dial(ctx context.Context, options *clickhouse.Options) (driver.Conn, error) {
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec executes a query without returning results
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// ExecAsync executes an insert with async_insert enabled. The server
// acknowledges before flushing unless WaitAsyncInsert was set.
func (c *Client) ExecAsync(ctx context.Context, query string, args ...any) error {
	wait := 0
	if c.waitAsyncInsert {
		wait = 1
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          1,
		"wait_for_async_insert": wait,
	}))
	return c.conn.Exec(ctx, query, args...)
}

// Query executes a query and returns rows
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// QueryRow executes a query expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}
