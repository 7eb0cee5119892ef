package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_MaxAttemptsPreservesCause(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts) // first try + 3 retries
	assert.ErrorIs(t, err, errTransient)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(), func() error { return errTransient })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2.0}
	assert.Equal(t, 10*time.Millisecond, Delay(cfg, 0))
	assert.Equal(t, 20*time.Millisecond, Delay(cfg, 1))
	assert.Equal(t, 40*time.Millisecond, Delay(cfg, 2))
	assert.Equal(t, 40*time.Millisecond, Delay(cfg, 5))
}
