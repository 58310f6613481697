package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultBlockDuration is how long an automatic block lasts
const DefaultBlockDuration = 24 * time.Hour

// AutoBlocklistManager promotes repeat offenders to the blocklist.
// Consider calls are serialised so two concurrent qualifying events
// cannot both create an entry.
type AutoBlocklistManager struct {
	events        EventStore
	blocks        BlocklistStore
	blockDuration time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu sync.Mutex
}

// NewAutoBlocklistManager creates a blocklist manager
func NewAutoBlocklistManager(events EventStore, blocks BlocklistStore, now func() time.Time,
	logger *slog.Logger) *AutoBlocklistManager {
	if now == nil {
		now = time.Now
	}
	return &AutoBlocklistManager{
		events:        events,
		blocks:        blocks,
		blockDuration: DefaultBlockDuration,
		now:           now,
		logger:        logger,
	}
}

// Consider blocks ip when any event type recorded for it within window
// reaches threshold and no active entry exists yet. It returns true
// when a new block was created.
func (m *AutoBlocklistManager) Consider(ctx context.Context, ip, reason string, threshold int,
	window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	counts, err := m.events.CountEventsByType(ctx, ip, now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("failed to count security events: %w", err)
	}

	qualifying := make([]EventCount, 0, len(counts))
	for _, c := range counts {
		if c.Count >= int64(threshold) {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		return false, nil
	}
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].Count == qualifying[j].Count {
			return qualifying[i].Type < qualifying[j].Type
		}
		return qualifying[i].Count > qualifying[j].Count
	})
	trigger := qualifying[0]

	active, err := m.blocks.HasActiveBlock(ctx, ip, now)
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	if active {
		return false, nil
	}

	expiresAt := now.Add(m.blockDuration)
	err = m.blocks.UpsertBlock(ctx, BlocklistEntry{
		IP:        ip,
		Reason:    fmt.Sprintf("auto-blocked: %s (%d occurrences)", reason, trigger.Count),
		ExpiresAt: &expiresAt,
		Active:    true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert blocklist entry: %w", err)
	}

	m.logger.Warn("address auto-blocked",
		"ip", ip,
		"reason", reason,
		"eventType", trigger.Type,
		"eventCount", trigger.Count,
		"expiresAt", expiresAt)

	err = m.events.InsertEvent(ctx, SecurityEvent{
		Type: EventBlockedIP,
		IP:   ip,
		Details: map[string]any{
			"autoBlocked": true,
			"reason":      reason,
			"eventCount":  trigger.Count,
		},
		CreatedAt: now,
	})
	if err != nil {
		return true, fmt.Errorf("failed to record block event: %w", err)
	}
	return true, nil
}

// IsBlocked reports whether ip currently has an active block
func (m *AutoBlocklistManager) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return m.blocks.HasActiveBlock(ctx, ip, m.now())
}

// RenderDenyConfig renders the active blocklist as nginx deny
// directives, one per address
func (m *AutoBlocklistManager) RenderDenyConfig(ctx context.Context) (string, error) {
	entries, err := m.blocks.ActiveBlocks(ctx, m.now())
	if err != nil {
		return "", fmt.Errorf("failed to list active blocks: %w", err)
	}
	var b strings.Builder
	if len(entries) == 0 {
		return "", nil
	}
	b.WriteString("# auto blocklist\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "deny %s;\n", entry.IP)
	}
	return b.String(), nil
}
