package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Anomaly thresholds
const (
	DefaultAnomalyWindow = time.Hour

	HighVolumeFactor        = 3
	SlowResponseThresholdMs = 5000
	HighErrorRatePercent    = 50
	URLScanMinDistinctURLs  = 100
	URLScanMaxTotalRequests = 200
)

// AnomalyKind names an independent anomaly flag
type AnomalyKind string

// Anomaly flags
const (
	AnomalyHighVolume    AnomalyKind = "high volume"
	AnomalySlowResponses AnomalyKind = "slow responses"
	AnomalyHighErrorRate AnomalyKind = "high error rate"
	AnomalyURLScan       AnomalyKind = "suspicious URL scan"
)

// Anomaly is one raised flag with a human readable description
type Anomaly struct {
	Kind    AnomalyKind
	Message string
}

// EvaluateStats applies the anomaly rules to the window statistics of
// one address. meanRequests is the mean requests-per-address of all
// addresses over the same window.
func EvaluateStats(stats IPStats, meanRequests float64) []Anomaly {
	var anomalies []Anomaly
	if stats.TotalRequests == 0 {
		return anomalies
	}

	if float64(stats.TotalRequests) > meanRequests*HighVolumeFactor {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyHighVolume,
			Message: fmt.Sprintf("abnormally high request count: %d", stats.TotalRequests),
		})
	}
	if stats.AvgResponseTimeMs > SlowResponseThresholdMs {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalySlowResponses,
			Message: fmt.Sprintf("abnormally high response time: %.0fms", stats.AvgResponseTimeMs),
		})
	}
	if stats.ErrorRate > HighErrorRatePercent {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyHighErrorRate,
			Message: fmt.Sprintf("abnormally high error rate: %.1f%%", stats.ErrorRate),
		})
	}
	if stats.DistinctURLs > URLScanMinDistinctURLs && stats.TotalRequests < URLScanMaxTotalRequests {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyURLScan,
			Message: fmt.Sprintf("suspicious URL scan pattern: %d distinct URLs", stats.DistinctURLs),
		})
	}
	return anomalies
}

// AnomalyDetector flags statistical outliers per address. It has no
// auto-block side effect.
type AnomalyDetector struct {
	stats  RequestStats
	events EventStore
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewAnomalyDetector creates an anomaly detector over the given window
func NewAnomalyDetector(stats RequestStats, events EventStore, window time.Duration,
	now func() time.Time, logger *slog.Logger) *AnomalyDetector {
	if window <= 0 {
		window = DefaultAnomalyWindow
	}
	if now == nil {
		now = time.Now
	}
	return &AnomalyDetector{stats: stats, events: events, window: window, now: now, logger: logger}
}

// Evaluate computes the anomaly flags of ip
func (a *AnomalyDetector) Evaluate(ctx context.Context, ip string) ([]Anomaly, error) {
	since := a.now().Add(-a.window)

	stats, err := a.stats.IPWindowStats(ctx, ip, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get address statistics: %w", err)
	}
	if stats.TotalRequests == 0 {
		return nil, nil
	}

	mean, err := a.stats.MeanRequestsPerIP(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get mean requests per address: %w", err)
	}

	return EvaluateStats(stats, mean), nil
}

// Inspect evaluates the record's source address and stores an
// ANOMALY_DETECTED event when any flag is raised
func (a *AnomalyDetector) Inspect(ctx context.Context, proxyHostID int, rec *accesslog.LogRecord) ([]Anomaly, error) {
	anomalies, err := a.Evaluate(ctx, rec.SourceIP)
	if err != nil || len(anomalies) == 0 {
		return anomalies, err
	}

	messages := make([]string, len(anomalies))
	for i, anomaly := range anomalies {
		messages[i] = anomaly.Message
	}

	a.logger.Warn("anomaly detected",
		"proxyHostId", proxyHostID,
		"ip", rec.SourceIP,
		"anomalies", messages)

	hostID := proxyHostID
	path := rec.URL
	err = a.events.InsertEvent(ctx, SecurityEvent{
		ProxyHostID: &hostID,
		Type:        EventAnomalyDetected,
		IP:          rec.SourceIP,
		Path:        &path,
		UserAgent:   rec.UserAgent,
		Details:     map[string]any{"anomalies": messages},
		CreatedAt:   a.now(),
	})
	if err != nil {
		return anomalies, fmt.Errorf("failed to record anomaly event: %w", err)
	}
	return anomalies, nil
}
