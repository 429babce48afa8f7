package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls Retry. MaxRetries counts extra attempts after the first one.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// Retryable reports whether err is worth another attempt. Nil treats every error as retryable.
	Retryable func(err error) bool
	// OnRetry is called before each retry with the attempt number about to run.
	OnRetry func(attempt int, err error)
}

// RetryError is returned once retries are exhausted
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retry runs fn until it succeeds, returns a non-retryable error, retries are
// exhausted or ctx is done. The delay between attempts is fixed.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error, logger *Logger) error {
	var lastErr error
	attempts := policy.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr)
			}
			logger.Warn("Retrying (attempt %d/%d) after %v...", attempt, attempts, policy.Delay)
			timer := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Error("Attempt %d failed: %v", attempt, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
	}
	return &RetryError{Attempts: attempts, Err: lastErr}
}
