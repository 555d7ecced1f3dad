package utils

import (
	"context"
	"fmt"
	"time"

	"reminder-service/internal/logging"
)

// RetryPolicy bounds Retry. Delay doubles after each failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries all.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, the policy gives up or ctx is done.
func Retry(ctx context.Context, logger *logging.Logger, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	delay := policy.Delay

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		logger.Warnf("Attempt %d/%d failed: %v", attempt, policy.MaxAttempts, err)
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}
