package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/proxyguard/log-watcher/pkg/database"
)

// PostgresURLEnv names the variable holding the test database URL.
// Integration tests are skipped when it is unset.
const PostgresURLEnv = "LOG_WATCHER_TEST_DATABASE_URL"

// PostgresTestHelper provides utilities for testing with Postgres
type PostgresTestHelper struct {
	Client *database.Client
}

// PostgresURL returns the test database URL, or "" when none is configured
func PostgresURL() string {
	return os.Getenv(PostgresURLEnv)
}

// NewPostgresTestHelper connects to the test database and ensures the schema
func NewPostgresTestHelper(ctx context.Context) (*PostgresTestHelper, error) {
	url := PostgresURL()
	if url == "" {
		return nil, fmt.Errorf("%s is not set", PostgresURLEnv)
	}

	client, err := database.NewClient(ctx, database.Config{
		URL:            url,
		PoolSize:       5,
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := client.EnsureSchema(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &PostgresTestHelper{Client: client}, nil
}

// Truncate empties every table
func (h *PostgresTestHelper) Truncate(ctx context.Context) error {
	tables := []string{
		database.TableAccessLogs,
		database.TableRealtimeTraffic,
		database.TableTrafficStats,
		database.TableSecurityEvents,
		database.TableIPBlacklist,
		database.TableProxyHostStatus,
	}
	_, err := h.Client.Pool().Exec(ctx,
		fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", strings.Join(tables, ", ")))
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

// CountRows returns the number of rows in table
func (h *PostgresTestHelper) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := h.Client.Pool().QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	return count, err
}

// Close closes the connection
func (h *PostgresTestHelper) Close() error {
	return h.Client.Close()
}
