package util

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err as not worth retrying. Retry returns it unwrapped on
// the first occurrence.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. Errors wrapped with Permanent stop the loop
// immediately. The function respects context cancellation between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = baseDelay
	eb.MaxElapsedTime = 0
	if baseDelay <= 0 {
		eb.RandomizationFactor = 0
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, b, func(err error, wait time.Duration) {
		slog.Debug("retrying", "attempt", attempt, "wait", wait, "err", err)
	})

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
