package watcher

import (
	"context"
	"time"
)

// Retry defaults
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// RetryPolicy retries an operation failing with a retryable error.
// The delay before retry n (starting at 0) is BaseDelay * 2^n.
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable classifies errors; nil means no error is retried
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done; nil uses a timer
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retry
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the delay preceding retry number retry
func (p RetryPolicy) Delay(retry int) time.Duration {
	return p.BaseDelay << retry
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// the retries are exhausted. It returns the number of attempts made
// and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}

		retry := attempts - 1
		if retry >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return attempts, err
		}

		delay := p.Delay(retry)
		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return attempts, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
