package util

import (
	"log/slog"
	"strings"
)

// ParseLogLevel maps a configured level name to a slog level.
// Unknown names fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
