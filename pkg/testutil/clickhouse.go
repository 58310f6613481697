package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/proxyguard/log-watcher/pkg/clickhouse"
	"github.com/proxyguard/log-watcher/pkg/util"
)

// ClickHouseURLEnv names the variable holding the comma-separated test
// ClickHouse hosts. Integration tests are skipped when it is unset.
const ClickHouseURLEnv = "LOG_WATCHER_TEST_CLICKHOUSE_URL"

const (
	// DefaultAsyncInsertPollInterval is how often to check if async inserts have landed
	DefaultAsyncInsertPollInterval = 10 * time.Millisecond

	// DefaultAsyncInsertTimeout is how long to wait for async inserts before timing out
	DefaultAsyncInsertTimeout = 5 * time.Second
)

// ClickHouseTestHelper provides utilities for testing with ClickHouse
type ClickHouseTestHelper struct {
	Client *clickhouse.Client
}

// ClickHouseURL returns the test ClickHouse hosts, or "" when none are configured
func ClickHouseURL() string {
	return os.Getenv(ClickHouseURLEnv)
}

// NewClickHouseTestHelper connects to the test ClickHouse
func NewClickHouseTestHelper(ctx context.Context) (*ClickHouseTestHelper, error) {
	url := ClickHouseURL()
	if url == "" {
		return nil, fmt.Errorf("%s is not set", ClickHouseURLEnv)
	}

	client, err := clickhouse.NewClient(ctx, clickhouse.Config{
		Hosts:           util.ParseCommaSeparatedHosts(url, clickhouse.DefaultNativePort),
		Username:        "default",
		Timeout:         10 * time.Second,
		WaitAsyncInsert: true,
		MaxRetries:      2,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test ClickHouse: %w", err)
	}

	return &ClickHouseTestHelper{Client: client}, nil
}

// SetupSchema creates the mirror schema
func (h *ClickHouseTestHelper) SetupSchema(ctx context.Context) error {
	return h.Client.EnsureSchema(ctx)
}

// TeardownSchema drops the mirror tables
func (h *ClickHouseTestHelper) TeardownSchema(ctx context.Context) error {
	return h.Client.DropSchema(ctx)
}

// CountRows returns the number of mirrored rows of a proxy host
func (h *ClickHouseTestHelper) CountRows(ctx context.Context, proxyHostID int) (uint64, error) {
	query := fmt.Sprintf("SELECT count() FROM %s.%s WHERE proxy_host_id = ?",
		clickhouse.DatabaseName, clickhouse.TableAccessLogs)

	var count uint64
	if err := h.Client.QueryRow(ctx, query, uint32(proxyHostID)).Scan(&count); err != nil { //nolint:gosec // test ids
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// WaitForRows polls until at least want rows of the proxy host are visible.
// Async inserts are acknowledged before they are flushed.
func (h *ClickHouseTestHelper) WaitForRows(ctx context.Context, proxyHostID int, want uint64, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultAsyncInsertTimeout
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(DefaultAsyncInsertPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := h.CountRows(ctx, proxyHostID)
			if err != nil {
				return err
			}

			if count >= want {
				return nil
			}

			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %d rows after %v, have %d", want, timeout, count)
			}
		}
	}
}

// Close closes the test helper
func (h *ClickHouseTestHelper) Close() error {
	if h.Client != nil {
		return h.Client.Close()
	}
	return nil
}
