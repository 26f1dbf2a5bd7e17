package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	transient := errors.New("still down")
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 4, calls) // initial try plus MaxAttempts retries
}

func TestRetry_UnrecoverableStopsImmediately(t *testing.T) {
	notFound := errors.New("key does not exist")
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return Unrecoverable(notFound)
	})

	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastConfig(), func() (string, error) {
		return "value", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestRetry_DisabledRunsOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	transient := errors.New("down")
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastConfig(), func() error {
		return errors.New("never succeeds")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, calculateDelay(cfg, 0))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 3*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 3*time.Second, calculateDelay(cfg, 10))
}
