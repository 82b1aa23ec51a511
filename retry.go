package xpub

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls PublishWithRetry. Publishers never retry on their own;
// this helper is for the calling layer.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf reports whether a failure should be retried. When nil only
	// MessagePublishError is retried; capacity and serialization failures
	// would fail the same way again.
	RetryIf func(f Failure) bool
	// Jitter adds up to [0, Jitter) random delay to the base backoff.
	Jitter time.Duration
}

// ExponentialBackoff doubles from base up to ceiling.
func ExponentialBackoff(base, ceiling time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base << uint(attempt-1)
		if d <= 0 || d > ceiling {
			return ceiling
		}
		return d
	}
}

// PublishWithRetry publishes msgs through p, retrying retryable failures.
// The last result is returned when attempts run out or ctx is done.
func PublishWithRetry[T Message](ctx context.Context, p *Publisher[T], msgs []T, cfg RetryConfig) Result {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := cfg.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(f Failure) bool { return f.Code == CodeMessagePublishError }
	}

	var last Result
	for i := 1; i <= attempts; i++ {
		last = p.Publish(ctx, msgs)
		f, failed := last.Failure()
		if !failed {
			return last
		}
		if ctx.Err() != nil || i == attempts || !shouldRetry(f) {
			return last
		}
		if cfg.Backoff == nil {
			continue
		}
		wait := cfg.Backoff(i)
		if cfg.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
	return last
}
