package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshanon/internal/clock"
	"freshanon/internal/models"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5))
	assert.Equal(t, time.Second, b.Delay(50))
}

func TestBackoff_DoSucceedsAfterTransient(t *testing.T) {
	b := Backoff{Base: 0, Max: 0, MaxAttempts: 3}
	calls := 0
	err := b.Do(context.Background(), clock.Real(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: busy", models.ErrTransientStore)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_DoExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 2}
	calls := 0
	err := b.Do(context.Background(), clock.Real(), func() error {
		calls++
		return fmt.Errorf("%w: down", models.ErrTransientStore)
	})
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
	assert.Equal(t, 2, calls)
}

func TestBackoff_DoPassesPermanentErrors(t *testing.T) {
	b := Backoff{MaxAttempts: 5}
	calls := 0
	err := b.Do(context.Background(), clock.Real(), func() error {
		calls++
		return models.ErrNotWaiting
	})
	assert.True(t, errors.Is(err, models.ErrNotWaiting))
	assert.Equal(t, 1, calls)
}

func TestBackoff_DoWaitsOnClock(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := Backoff{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 3}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), clk, func() error {
			calls++
			if calls == 1 {
				return models.ErrTransientStore
			}
			return nil
		})
	}()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, 2, calls)
}

func TestBackoff_DoStopsOnContext(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := Backoff{Base: time.Minute, Max: time.Minute, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, clk, func() error { return models.ErrTransientStore })
	}()
	clk.WaitForTimers(1)
	cancel()

	assert.ErrorIs(t, <-done, models.ErrServiceUnavailable)
}
