package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freshanon/internal/clock"
	"freshanon/internal/models"
)

// Backoff doubles the delay after each consecutive transient failure, starting at
// Base and capped at Max.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait after the n-th consecutive failure (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	delay := b.Base
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Do runs fn until it returns nil or a non-transient error. Transient failures
// (models.ErrTransientStore) are retried up to MaxAttempts times in total, after
// which Do returns models.ErrServiceUnavailable wrapping the last failure.
func (b Backoff) Do(ctx context.Context, clk clock.Clock, fn func() error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for n := 1; n <= attempts; n++ {
		last = fn()
		if last == nil || !errors.Is(last, models.ErrTransientStore) {
			return last
		}
		if n == attempts {
			break
		}
		select {
		case <-clk.After(b.Delay(n)):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, last)
}
