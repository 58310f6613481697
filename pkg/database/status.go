package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/proxyguard/log-watcher/pkg/npm"
)

// StatusRepository stores proxy host probe results
type StatusRepository struct {
	db *gorm.DB
}

// NewStatusRepository creates a status repository on the client
func NewStatusRepository(client *Client) *StatusRepository {
	return &StatusRepository{db: client.Gorm()}
}

// UpsertStatus replaces the stored probe result of the host
func (r *StatusRepository) UpsertStatus(ctx context.Context, status npm.HostStatus) error {
	row := ProxyHostStatus{
		ProxyHostID: status.ProxyHostID,
		StatusCode:  status.StatusCode,
		StatusError: status.Error,
		CheckedAt:   status.CheckedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proxy_host_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status_code", "status_error", "checked_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store status of proxy host %d: %w", status.ProxyHostID, err)
	}
	return nil
}
