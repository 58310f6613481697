package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// topHostsReported is the number of proxy hosts listed in a report
const topHostsReported = 10

// HostStats are the running counters of one proxy host
type HostStats struct {
	LastAccess  time.Time `json:"lastAccess"`
	ProxyHostID int       `json:"proxyHostId"`
	Count       int64     `json:"count"`
}

// StatsSnapshot is a copy of the running counters
type StatsSnapshot struct {
	LastProcessed     time.Time
	Hosts             []HostStats
	LinesProcessed    int64
	Errors            int64
	ParseFailures     int64
	Skipped           int64
	ConsecutiveErrors int
}

// Stats holds the process-wide ingestion counters. It is safe for
// concurrent use by the files processed within one poll.
type Stats struct {
	hosts map[int]*HostStats
	now   func() time.Time

	lastProcessed     time.Time
	linesProcessed    int64
	errors            int64
	parseFailures     int64
	skipped           int64
	consecutiveErrors int

	mu sync.Mutex
}

// NewStats creates zeroed counters
func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{hosts: make(map[int]*HostStats), now: now}
}

// RecordSuccess accounts for records persisted for proxyHostID and
// ends any failure streak
func (s *Stats) RecordSuccess(proxyHostID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.linesProcessed += int64(count)
	s.lastProcessed = now
	s.consecutiveErrors = 0

	host, ok := s.hosts[proxyHostID]
	if !ok {
		host = &HostStats{ProxyHostID: proxyHostID}
		s.hosts[proxyHostID] = host
	}
	host.Count += int64(count)
	host.LastAccess = now
}

// RecordFailure accounts for records dropped after exhausting retries
// and returns the length of the failure streak
func (s *Stats) RecordFailure(count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors += int64(count)
	s.consecutiveErrors++
	return s.consecutiveErrors
}

// RecordParseFailures accounts for lines matching no grammar
func (s *Stats) RecordParseFailures(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parseFailures += int64(count)
}

// RecordSkipped accounts for records older than the maximum age
func (s *Stats) RecordSkipped(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.skipped += int64(count)
}

// ConsecutiveErrors returns the length of the current failure streak
func (s *Stats) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.consecutiveErrors
}

// Idle reports whether nothing was persisted nor dropped yet
func (s *Stats) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.linesProcessed == 0 && s.errors == 0
}

// Snapshot returns a copy of the counters, hosts sorted by decreasing
// count
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatsSnapshot{
		LastProcessed:     s.lastProcessed,
		LinesProcessed:    s.linesProcessed,
		Errors:            s.errors,
		ParseFailures:     s.parseFailures,
		Skipped:           s.skipped,
		ConsecutiveErrors: s.consecutiveErrors,
		Hosts:             make([]HostStats, 0, len(s.hosts)),
	}
	for _, host := range s.hosts {
		snapshot.Hosts = append(snapshot.Hosts, *host)
	}
	sort.Slice(snapshot.Hosts, func(i, j int) bool {
		if snapshot.Hosts[i].Count != snapshot.Hosts[j].Count {
			return snapshot.Hosts[i].Count > snapshot.Hosts[j].Count
		}
		return snapshot.Hosts[i].ProxyHostID < snapshot.Hosts[j].ProxyHostID
	})
	return snapshot
}

// Report logs a snapshot of the counters with the busiest proxy hosts.
// Nothing is logged before the first batch was persisted or dropped.
func (s *Stats) Report(logger *slog.Logger) bool {
	snapshot := s.Snapshot()
	if snapshot.LinesProcessed == 0 && snapshot.Errors == 0 {
		return false
	}

	hosts := snapshot.Hosts
	if len(hosts) > topHostsReported {
		hosts = hosts[:topHostsReported]
	}
	attrs := []any{
		"linesProcessed", snapshot.LinesProcessed,
		"errors", snapshot.Errors,
		"parseFailures", snapshot.ParseFailures,
		"skipped", snapshot.Skipped,
		"consecutiveErrors", snapshot.ConsecutiveErrors,
		"hosts", len(snapshot.Hosts),
		"topHosts", hosts,
	}
	if !snapshot.LastProcessed.IsZero() {
		attrs = append(attrs, "lastProcessed", snapshot.LastProcessed)
	}
	logger.Info("ingestion statistics", attrs...)
	return true
}
