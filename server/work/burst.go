package work

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Burst calls 'fn' exactly 'attempts' times, waiting 'interval' after
// each call before starting the next. A failed call does not stop the
// burst and a successful one does not end it early. The returned error
// combines every failure, and is nil only if all calls succeeded.
//
// Burst stops early only if ctx is done while waiting.
func Burst(ctx context.Context, attempts int, interval time.Duration, fn func(attempt int) error) error {
	var errs error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return multierr.Append(errs, ctx.Err())
			case <-timer.C:
			}
		}

		errs = multierr.Append(errs, fn(attempt))
	}

	return errs
}
