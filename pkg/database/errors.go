package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes worth retrying
var transientCodes = map[string]bool{
	"40P01": true, // deadlock_detected
	"40001": true, // serialization_failure
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement or lock timeout)
	"53300": true, // too_many_connections
}

// IsTransientError reports whether a failed transaction may succeed
// when retried: lock conflicts, deadlocks and connection failures that
// happened before anything was sent
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "lock wait timeout")
}
