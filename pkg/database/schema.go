package database

import (
	"context"
	"fmt"
)

// EnsureSchema creates missing tables and indexes. Existing tables are
// extended, never dropped.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.gorm.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}
