package database

import (
	"time"

	"gorm.io/datatypes"
)

// AccessLog is a persisted request record
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type AccessLog struct {
	ID             uint64    `gorm:"primaryKey"`
	ProxyHostID    int       `gorm:"not null;uniqueIndex:idx_access_logs_dedup,priority:1;index:idx_access_logs_host_time,priority:1"`
	LogTimestamp   time.Time `gorm:"not null;uniqueIndex:idx_access_logs_dedup,priority:2;index:idx_access_logs_host_time,priority:2"`
	URL            string    `gorm:"column:url;type:varchar(500);not null;uniqueIndex:idx_access_logs_dedup,priority:3"`
	IPAddress      string    `gorm:"type:varchar(45);not null;uniqueIndex:idx_access_logs_dedup,priority:4;index:idx_access_logs_ip_created,priority:1"`
	Method         string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_access_logs_dedup,priority:5"`
	StatusCode     int       `gorm:"not null"`
	UserAgent      *string   `gorm:"type:varchar(500)"`
	Referer        *string   `gorm:"type:varchar(500)"`
	BytesSent      int64     `gorm:"not null;default:0"`
	ResponseTimeMs int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;default:now();index:idx_access_logs_ip_created,priority:2"`
}

// TableName overrides the gorm table name
func (AccessLog) TableName() string { return TableAccessLogs }

// RealtimeTraffic is a per-minute rollup row
type RealtimeTraffic struct {
	ID             uint64    `gorm:"primaryKey"`
	ProxyHostID    int       `gorm:"not null;uniqueIndex:idx_realtime_traffic_bucket,priority:1"`
	Timestamp      time.Time `gorm:"column:timestamp;not null;uniqueIndex:idx_realtime_traffic_bucket,priority:2"`
	RequestCount   int64     `gorm:"not null;default:0"`
	ResponseTimeMs float64   `gorm:"not null;default:0"`
}

// TableName overrides the gorm table name
func (RealtimeTraffic) TableName() string { return TableRealtimeTraffic }

// TrafficStat is a per-hour rollup row
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type TrafficStat struct {
	ID                uint64    `gorm:"primaryKey"`
	ProxyHostID       int       `gorm:"not null;uniqueIndex:idx_traffic_stats_bucket,priority:1"`
	Timestamp         time.Time `gorm:"column:timestamp;not null;uniqueIndex:idx_traffic_stats_bucket,priority:2"`
	RequestCount      int64     `gorm:"not null;default:0"`
	BytesSent         int64     `gorm:"not null;default:0"`
	AvgResponseTimeMs float64   `gorm:"not null;default:0"`
	Status2xx         int64     `gorm:"column:status_2xx;not null;default:0"`
	Status4xx         int64     `gorm:"column:status_4xx;not null;default:0"`
	Status5xx         int64     `gorm:"column:status_5xx;not null;default:0"`
}

// TableName overrides the gorm table name
func (TrafficStat) TableName() string { return TableTrafficStats }

// SecurityEventRow is a persisted security event
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type SecurityEventRow struct {
	ID          uint64            `gorm:"primaryKey"`
	ProxyHostID *int              `gorm:"index"`
	EventType   string            `gorm:"type:varchar(32);not null;index"`
	IPAddress   *string           `gorm:"type:varchar(45);index:idx_security_events_ip_created,priority:1"`
	Path        *string           `gorm:"type:text"`
	UserAgent   *string           `gorm:"type:text"`
	Details     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:now();index:idx_security_events_ip_created,priority:2"`
}

// TableName overrides the gorm table name
func (SecurityEventRow) TableName() string { return TableSecurityEvents }

// IPBlacklist is a blocklist row, unique per address
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type IPBlacklist struct {
	ID        uint64     `gorm:"primaryKey"`
	IPAddress string     `gorm:"type:varchar(45);not null;uniqueIndex"`
	Reason    string     `gorm:"type:text"`
	ExpiresAt *time.Time `gorm:"index"`
	IsActive  bool       `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the gorm table name
func (IPBlacklist) TableName() string { return TableIPBlacklist }

// ProxyHostStatus is the last probe result of a proxy host
type ProxyHostStatus struct {
	ID          uint64    `gorm:"primaryKey"`
	ProxyHostID int       `gorm:"not null;uniqueIndex"`
	StatusCode  *int
	StatusError *string   `gorm:"type:text"`
	CheckedAt   time.Time `gorm:"not null"`
}

// TableName overrides the gorm table name
func (ProxyHostStatus) TableName() string { return TableProxyHostStatus }

// allModels lists every table managed by EnsureSchema
func allModels() []any {
	return []any{
		&AccessLog{},
		&RealtimeTraffic{},
		&TrafficStat{},
		&SecurityEventRow{},
		&IPBlacklist{},
		&ProxyHostStatus{},
	}
}
