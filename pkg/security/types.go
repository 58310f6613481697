package security

import (
	"context"
	"time"
)

// EventType classifies a security event
type EventType string

// Security event types
const (
	EventBlockedIP             EventType = "BLOCKED_IP"
	EventBlockedPath           EventType = "BLOCKED_PATH"
	EventSuspiciousUA          EventType = "SUSPICIOUS_UA"
	EventRateLimit             EventType = "RATE_LIMIT"
	EventVulnerabilityDetected EventType = "VULNERABILITY_DETECTED"
	EventSQLInjection          EventType = "SQL_INJECTION"
	EventXSS                   EventType = "XSS"
	EventPathTraversal         EventType = "PATH_TRAVERSAL"
	EventCommandInjection      EventType = "COMMAND_INJECTION"
	EventAnomalyDetected       EventType = "ANOMALY_DETECTED"
)

// Severity ranks a detected threat
type Severity string

// Threat severities, lowest first
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// TriggersAutoBlock reports whether threats of this severity are
// considered for auto-blocking
func (s Severity) TriggersAutoBlock() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// SecurityEvent is an append-only security log entry
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type SecurityEvent struct {
	ProxyHostID *int
	Type        EventType
	IP          string
	Path        *string
	UserAgent   *string
	Details     map[string]any
	CreatedAt   time.Time
}

// BlocklistEntry is a blocked source address
type BlocklistEntry struct {
	IP        string
	Reason    string
	ExpiresAt *time.Time
	Active    bool
}

// IPStats summarises the persisted requests of one address over a window
type IPStats struct {
	TotalRequests     int64
	AvgResponseTimeMs float64
	// ErrorRate is the percentage of requests with status >= 400
	ErrorRate    float64
	DistinctURLs int64
}

// EventCount is the number of events of one type
type EventCount struct {
	Type  EventType
	Count int64
}

// EventStore persists security events
type EventStore interface {
	InsertEvent(ctx context.Context, event SecurityEvent) error
	CountEventsByType(ctx context.Context, ip string, since time.Time) ([]EventCount, error)
}

// BlocklistStore persists blocked addresses
type BlocklistStore interface {
	// HasActiveBlock reports whether ip has an active, unexpired entry at now
	HasActiveBlock(ctx context.Context, ip string, now time.Time) (bool, error)
	// UpsertBlock inserts or reactivates the entry for entry.IP
	UpsertBlock(ctx context.Context, entry BlocklistEntry) error
	ActiveBlocks(ctx context.Context, now time.Time) ([]BlocklistEntry, error)
}

// RequestStats answers questions about already persisted requests
type RequestStats interface {
	CountRecentRequests(ctx context.Context, ip string, since time.Time) (int64, error)
	IPWindowStats(ctx context.Context, ip string, since time.Time) (IPStats, error)
	MeanRequestsPerIP(ctx context.Context, since time.Time) (float64, error)
}
