package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client wraps the Postgres connection pool. Raw traffic writes go
// through the pgx pool; the security and status repositories use a
// gorm handle sharing the same pool.
type Client struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	gorm  *gorm.DB
}

// Config holds Postgres connection configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	// URL, when set, is used instead of the discrete connection fields
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	PoolSize       int
	Timeout        time.Duration // Used for the connect timeout
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// ConnString returns the connection URL described by cfg
func (cfg Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.Timeout > 0 {
		q := u.Query()
		q.Set("connect_timeout", strconv.Itoa(int(cfg.Timeout.Seconds())))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// NewClient connects to Postgres, retrying with exponential backoff
// until a ping succeeds or the attempts are exhausted
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize) //nolint:gosec // pool size is validated at startup
	}
	poolConfig.ConnConfig.Tracer = newQueryTracer(cfg.Logger)

	var pool *pgxpool.Pool
	backoff := cfg.InitialBackoff

	// MaxRetries = number of retries after initial attempt
	// Total attempts = 1 initial + MaxRetries retries
	maxAttempts := cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			cfg.Logger.Info("retrying database connection after backoff",
				"attempt", attempt+1,
				"backoffSeconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}

			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			if attempt < maxAttempts-1 {
				cfg.Logger.Warn("failed to create database pool, will retry",
					"attempt", attempt+1,
					"error", err)
				continue
			}
			break
		}

		err = pool.Ping(ctx)
		if err == nil {
			return newClientFromPool(pool, cfg.Logger)
		}

		pool.Close()

		if attempt < maxAttempts-1 {
			cfg.Logger.Warn("failed to ping database, will retry",
				"attempt", attempt+1,
				"error", err)
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxAttempts, err)
}

func newClientFromPool(pool *pgxpool.Pool, logger *slog.Logger) (*Client, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}
	return &Client{pool: pool, sqlDB: sqlDB, gorm: gormDB}, nil
}

// Pool returns the pgx pool
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Gorm returns the gorm handle sharing the pool
func (c *Client) Gorm() *gorm.DB {
	return c.gorm
}

// Ping checks the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close closes the pool. In-flight transactions are allowed to finish.
func (c *Client) Close() error {
	var err error
	if c.sqlDB != nil {
		err = c.sqlDB.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	return err
}
