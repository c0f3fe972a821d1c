package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when RecoveryController's summarize
// pass has exhausted config.RecoveryConfig.Retry.MaxAttempts without the
// summarizer returning successfully.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the outcome of a RetryWithBackoff call, including the
// attempt count a caller logs alongside the outcome event.
type RetryResult[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// RetryWithBackoff calls fn up to maxAttempts times, sleeping according to
// policy between failures. fn receives the 1-indexed attempt number.
// Context cancellation is checked between attempts so a caller can shut
// down a long summarize retry loop promptly.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		// Execute the function
		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		// Don't sleep after the last attempt
		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
