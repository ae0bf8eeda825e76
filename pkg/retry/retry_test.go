package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	res := Do(context.Background(), DefaultConfig(), func() error { return nil })
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.LastErr)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	res := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.LastErr)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	cfg := Config{MaxAttempts: 4, InitialBackoff: time.Millisecond}

	res := Do(context.Background(), cfg, func() error { return boom })

	assert.Equal(t, 4, res.Attempts)
	assert.ErrorIs(t, res.LastErr, boom)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := Config{
		MaxAttempts:    10,
		InitialBackoff: time.Millisecond,
		RetryIf:        func(err error) bool { return !errors.Is(err, permanent) },
	}

	res := Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.LastErr, permanent)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxAttempts: 10, InitialBackoff: time.Hour}
	res := Do(ctx, cfg, func() error { return errors.New("transient") })

	assert.ErrorIs(t, res.LastErr, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}
