package recovery

import (
	"context"
	"fmt"
	"time"

	engineerrors "shelter-engine/pkg/errors"
)

// RetryPolicy is a fixed-attempt, fixed-backoff retry budget
type RetryPolicy struct {
	Attempts int           // total attempts including the first, minimum 1
	Backoff  time.Duration // wait between attempts
}

// Retry calls fn up to policy.Attempts times, sleeping Backoff between
// attempts. It stops early when ctx is done or fn returns an error that
// errors.IsRetryable rejects. The attempt number passed to fn starts at 1.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	if policy.Attempts <= 0 {
		return fmt.Errorf("retry: attempts must be > 0")
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !engineerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.Attempts {
			break
		}

		timer := time.NewTimer(policy.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
		}
	}
	return lastErr
}
