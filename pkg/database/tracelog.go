package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/tracelog"
)

// newQueryTracer reports pgx warnings and errors through slog, and
// every query when the logger is at debug level
func newQueryTracer(logger *slog.Logger) *tracelog.TraceLog {
	level := tracelog.LogLevelWarn
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = tracelog.LogLevelDebug
	}
	return &tracelog.TraceLog{
		Logger: tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
			args := make([]any, 0, 2*len(data)+2)
			args = append(args, "component", "pgx")
			for k, v := range data {
				if k == "args" {
					// query arguments may carry addresses and user agents
					continue
				}
				args = append(args, k, v)
			}
			logger.Log(ctx, slogLevel(level), msg, args...)
		}),
		LogLevel: level,
	}
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelError:
		return slog.LevelError
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	case tracelog.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// gormWriter adapts slog to the gorm logger
type gormWriter struct {
	logger *slog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}
