package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Threat is the result of matching a request against the signature sets
type Threat struct {
	Detected bool
	Type     EventType
	Severity Severity
	Pattern  string
}

// Detect matches url and userAgent against the signature categories
// in priority order and returns the first hit. Path traversal is only
// checked against the url; every other category is checked against
// both.
func Detect(url, userAgent string) Threat {
	url = strings.ToLower(url)
	userAgent = strings.ToLower(userAgent)

	for _, category := range threatCategories {
		for _, pattern := range category.patterns {
			if (category.checkURL && pattern.MatchString(url)) ||
				(category.checkUA && userAgent != "" && pattern.MatchString(userAgent)) {
				return Threat{
					Detected: true,
					Type:     category.eventType,
					Severity: category.severity,
					Pattern:  pattern.String(),
				}
			}
		}
	}
	return Threat{}
}

// Auto-block policy for signature hits
const (
	ThreatBlockThreshold = 3
	ThreatBlockWindow    = time.Hour
)

// ThreatDetector records signature hits and escalates severe ones to
// the auto-blocklist
type ThreatDetector struct {
	events  EventStore
	blocker *AutoBlocklistManager
	now     func() time.Time
	logger  *slog.Logger
}

// NewThreatDetector creates a threat detector
func NewThreatDetector(events EventStore, blocker *AutoBlocklistManager, now func() time.Time,
	logger *slog.Logger) *ThreatDetector {
	if now == nil {
		now = time.Now
	}
	return &ThreatDetector{events: events, blocker: blocker, now: now, logger: logger}
}

// Inspect checks one record. On a hit it stores a security event and,
// for HIGH and CRITICAL threats, asks the blocklist manager to
// consider the source address. The returned threat is valid even when
// an error is returned.
func (d *ThreatDetector) Inspect(ctx context.Context, proxyHostID int, rec *accesslog.LogRecord) (Threat, error) {
	threat := Detect(rec.URL, rec.UserAgentOrEmpty())
	if !threat.Detected {
		return threat, nil
	}

	d.logger.Warn("threat detected",
		"proxyHostId", proxyHostID,
		"ip", rec.SourceIP,
		"threatType", threat.Type,
		"severity", threat.Severity,
		"url", rec.URL)

	hostID := proxyHostID
	path := rec.URL
	err := d.events.InsertEvent(ctx, SecurityEvent{
		ProxyHostID: &hostID,
		Type:        threat.Type,
		IP:          rec.SourceIP,
		Path:        &path,
		UserAgent:   rec.UserAgent,
		Details: map[string]any{
			"severity": string(threat.Severity),
			"pattern":  threat.Pattern,
			"method":   rec.Method,
		},
		CreatedAt: d.now(),
	})
	if err != nil {
		return threat, fmt.Errorf("failed to record threat event: %w", err)
	}

	if threat.Severity.TriggersAutoBlock() {
		reason := fmt.Sprintf("%s detected", threat.Type)
		if _, err := d.blocker.Consider(ctx, rec.SourceIP, reason,
			ThreatBlockThreshold, ThreatBlockWindow); err != nil {
			return threat, err
		}
	}
	return threat, nil
}
