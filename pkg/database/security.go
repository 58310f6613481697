package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/proxyguard/log-watcher/pkg/security"
)

// SecurityRepository stores security events and the address blocklist
type SecurityRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSecurityRepository creates a security repository on the client
func NewSecurityRepository(client *Client) *SecurityRepository {
	return &SecurityRepository{db: client.Gorm(), now: time.Now}
}

// InsertEvent appends a security event
func (r *SecurityRepository) InsertEvent(ctx context.Context, event security.SecurityEvent) error {
	row := SecurityEventRow{
		ProxyHostID: event.ProxyHostID,
		EventType:   string(event.Type),
		Path:        event.Path,
		UserAgent:   event.UserAgent,
		CreatedAt:   event.CreatedAt,
	}
	if event.IP != "" {
		ip := event.IP
		row.IPAddress = &ip
	}
	if event.Details != nil {
		row.Details = datatypes.JSONMap(event.Details)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.now()
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// CountEventsByType counts the events of ip created since, per type
func (r *SecurityRepository) CountEventsByType(ctx context.Context, ip string, since time.Time) ([]security.EventCount, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	err := r.db.WithContext(ctx).
		Model(&SecurityEventRow{}).
		Select("event_type, COUNT(*) AS count").
		Where("ip_address = ? AND created_at >= ?", ip, since).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count security events: %w", err)
	}

	counts := make([]security.EventCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, security.EventCount{
			Type:  security.EventType(row.EventType),
			Count: row.Count,
		})
	}
	return counts, nil
}

// HasActiveBlock reports whether ip has an active entry that has not
// expired at now
func (r *SecurityRepository) HasActiveBlock(ctx context.Context, ip string, now time.Time) (bool, error) {
	var count int64
	err := r.activeAt(ctx, now).
		Where("ip_address = ?", ip).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up blocklist: %w", err)
	}
	return count > 0, nil
}

// IsBlocked reports whether ip is blocked right now
func (r *SecurityRepository) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return r.HasActiveBlock(ctx, ip, r.now())
}

// UpsertBlock inserts the entry or overwrites the existing row of the
// same address, reactivating it
func (r *SecurityRepository) UpsertBlock(ctx context.Context, entry security.BlocklistEntry) error {
	row := IPBlacklist{
		IPAddress: entry.IP,
		Reason:    entry.Reason,
		ExpiresAt: entry.ExpiresAt,
		IsActive:  entry.Active,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "expires_at", "is_active", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert blocklist entry: %w", err)
	}
	return nil
}

// ActiveBlocks lists the entries active at now, ordered by address
func (r *SecurityRepository) ActiveBlocks(ctx context.Context, now time.Time) ([]security.BlocklistEntry, error) {
	var rows []IPBlacklist
	if err := r.activeAt(ctx, now).Order("ip_address").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list blocklist: %w", err)
	}

	entries := make([]security.BlocklistEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, security.BlocklistEntry{
			IP:        row.IPAddress,
			Reason:    row.Reason,
			ExpiresAt: row.ExpiresAt,
			Active:    row.IsActive,
		})
	}
	return entries, nil
}

func (r *SecurityRepository) activeAt(ctx context.Context, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&IPBlacklist{}).
		Where("is_active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now)
}
