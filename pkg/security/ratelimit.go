package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Rate limit defaults
const (
	DefaultRateLimitMaxRequests = 100
	DefaultRateLimitWindow      = time.Minute
	RateLimitBlockThreshold     = 2
	RateLimitBlockWindow        = time.Hour
)

// RateLimitResult is the outcome of a rate limit check
type RateLimitResult struct {
	Exceeded bool
	Count    int64
}

// RateLimiter compares the number of persisted requests of an address
// in a trailing window against a threshold. It counts storage state,
// so requests of the batch being written are seen one cycle late.
type RateLimiter struct {
	stats       RequestStats
	events      EventStore
	blocker     *AutoBlocklistManager
	maxRequests int64
	window      time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Stats       RequestStats
	Events      EventStore
	Blocker     *AutoBlocklistManager
	MaxRequests int
	Window      time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = DefaultRateLimitMaxRequests
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		stats:       cfg.Stats,
		events:      cfg.Events,
		blocker:     cfg.Blocker,
		maxRequests: int64(maxRequests),
		window:      window,
		now:         now,
		logger:      cfg.Logger,
	}
}

// Check counts the requests of ip in the trailing window
func (r *RateLimiter) Check(ctx context.Context, ip string) (RateLimitResult, error) {
	count, err := r.stats.CountRecentRequests(ctx, ip, r.now().Add(-r.window))
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to count recent requests: %w", err)
	}
	return RateLimitResult{Exceeded: count >= r.maxRequests, Count: count}, nil
}

// Enforce checks the record's source address and, when the limit is
// exceeded, stores a RATE_LIMIT event and asks the blocklist manager
// to consider the address
func (r *RateLimiter) Enforce(ctx context.Context, proxyHostID int, rec *accesslog.LogRecord) (RateLimitResult, error) {
	result, err := r.Check(ctx, rec.SourceIP)
	if err != nil || !result.Exceeded {
		return result, err
	}

	r.logger.Warn("rate limit exceeded",
		"proxyHostId", proxyHostID,
		"ip", rec.SourceIP,
		"requestCount", result.Count,
		"maxRequests", r.maxRequests)

	hostID := proxyHostID
	path := rec.URL
	err = r.events.InsertEvent(ctx, SecurityEvent{
		ProxyHostID: &hostID,
		Type:        EventRateLimit,
		IP:          rec.SourceIP,
		Path:        &path,
		UserAgent:   rec.UserAgent,
		Details:     map[string]any{"requestCount": result.Count},
		CreatedAt:   r.now(),
	})
	if err != nil {
		return result, fmt.Errorf("failed to record rate limit event: %w", err)
	}

	if _, err := r.blocker.Consider(ctx, rec.SourceIP, "rate limit violation",
		RateLimitBlockThreshold, RateLimitBlockWindow); err != nil {
		return result, err
	}
	return result, nil
}
