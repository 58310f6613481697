package watcher

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxBatchSize is the hard limit on records per transaction
	MaxBatchSize = 10_000
	// MaxConcurrentFilesLimit caps simultaneous file processing, and
	// therefore simultaneous database transactions
	MaxConcurrentFilesLimit = 100
)

// ValidateConfig performs additional validation beyond required field checks
func ValidateConfig() error {
	logLevel := ConfigSpec.GetString("log-level")
	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
	if !validLevels[logLevel] {
		return fmt.Errorf("invalid log-level: %s (must be error|warn|info|debug)", logLevel)
	}

	if ConfigSpec.GetString("log-dir") == "" {
		return fmt.Errorf("log-dir must not be empty")
	}

	positive := []string{
		"watcher.interval-ms",
		"watcher.batch-size",
		"watcher.stats-interval-ms",
		"watcher.max-log-age-days",
		"watcher.max-concurrent-files",
		"watcher.max-read-bytes",
		"watcher.write-timeout-seconds",
		"database.pool-size",
		"retry.base-delay-ms",
	}
	for _, name := range positive {
		if value := ConfigSpec.GetInt(name); value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	batchSize := ConfigSpec.GetInt("watcher.batch-size")
	if batchSize > MaxBatchSize {
		return fmt.Errorf("watcher.batch-size (%d) exceeds maximum allowed (%d)", batchSize, MaxBatchSize)
	}

	maxFiles := ConfigSpec.GetInt("watcher.max-concurrent-files")
	if maxFiles > MaxConcurrentFilesLimit {
		return fmt.Errorf("watcher.max-concurrent-files (%d) exceeds maximum allowed (%d)",
			maxFiles, MaxConcurrentFilesLimit)
	}

	if maxRetries := ConfigSpec.GetInt("retry.max-retries"); maxRetries < 0 {
		return fmt.Errorf("retry.max-retries must not be negative, got %d", maxRetries)
	}

	if ConfigSpec.GetBool("security.enabled") {
		sampleRate := ConfigSpec.GetFloat64("security.anomaly-sample-rate")
		if sampleRate < 0 || sampleRate > 1 {
			return fmt.Errorf("security.anomaly-sample-rate must be within [0, 1], got %g", sampleRate)
		}
	}

	hour := ConfigSpec.GetInt("status-check.hour")
	if hour < 0 || hour > 23 {
		return fmt.Errorf("status-check.hour must be within [0, 23], got %d", hour)
	}

	if ConfigSpec.GetBool("status-check.enabled") || ConfigSpec.GetBool("ingest.enabled") {
		if ConfigSpec.GetString("npm.api-url") == "" {
			return fmt.Errorf("npm.api-url is required when status-check or ingest is enabled")
		}
	}

	if ConfigSpec.GetBool("deadletter.enabled") {
		if ConfigSpec.GetString("deadletter.bucket") == "" {
			return fmt.Errorf("deadletter.bucket is required when deadletter is enabled")
		}
		if ConfigSpec.GetInt("s3.max-retry-attempts") <= 0 {
			return fmt.Errorf("s3.max-retry-attempts must be positive, got %d",
				ConfigSpec.GetInt("s3.max-retry-attempts"))
		}
	}

	return nil
}

// DatabaseSettings are the database connection parameters. They are
// required at startup.
type DatabaseSettings struct {
	Host       string `validate:"required"`
	User       string `validate:"required"`
	Password   string `validate:"required"`
	Name       string `validate:"required"`
	Port       int    `validate:"min=1,max=65535"`
	PoolSize   int    `validate:"min=1"`
	MaxRetries int    `validate:"min=0"`
}

// LoadDatabaseSettings reads the database settings from the running
// configuration and validates them
func LoadDatabaseSettings() (DatabaseSettings, error) {
	settings := DatabaseSettings{
		Host:       ConfigSpec.GetString("database.host"),
		Port:       ConfigSpec.GetInt("database.port"),
		User:       ConfigSpec.GetString("database.user"),
		Password:   ConfigSpec.GetString("database.password"),
		Name:       ConfigSpec.GetString("database.name"),
		PoolSize:   ConfigSpec.GetInt("database.pool-size"),
		MaxRetries: ConfigSpec.GetInt("database.connect-retries"),
	}
	if err := validator.New().Struct(settings); err != nil {
		return DatabaseSettings{}, fmt.Errorf("invalid database settings: %w", err)
	}
	return settings, nil
}

// Options returns the watcher options held by the running configuration
func Options() Config {
	return Config{
		LogDir:             ConfigSpec.GetString("log-dir"),
		Interval:           time.Duration(ConfigSpec.GetInt("watcher.interval-ms")) * time.Millisecond,
		StatsInterval:      time.Duration(ConfigSpec.GetInt("watcher.stats-interval-ms")) * time.Millisecond,
		MaxConcurrentFiles: ConfigSpec.GetInt("watcher.max-concurrent-files"),
		MaxReadBytes:       int64(ConfigSpec.GetInt("watcher.max-read-bytes")),
	}
}
