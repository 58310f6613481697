package npm

import (
	"context"
	"time"
)

// NextDailyRun returns the first time strictly after now whose clock
// reads hour:00:00 in now's location
func NextDailyRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunDaily calls fn once immediately, then every day at hour until ctx
// is canceled
func RunDaily(ctx context.Context, hour int, fn func(context.Context)) {
	fn(ctx)
	for {
		timer := time.NewTimer(time.Until(NextDailyRun(time.Now(), hour)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}
