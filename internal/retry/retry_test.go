package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-snapshots/internal/logging"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func testCtx() context.Context {
	return logging.WithLogger(context.Background(), logging.NewNop())
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Do(testCtx(), fastConfig(), "connect", func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_GivesUp(t *testing.T) {
	cause := errors.New("connection refused")
	result := WithExponentialBackoff(testCtx(), fastConfig(), "connect", func(ctx context.Context, attempt int) error {
		return cause
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, cause)

	err := Do(testCtx(), fastConfig(), "connect", func(ctx context.Context, attempt int) error { return cause })
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connect failed after 3 attempts")
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	result := WithExponentialBackoff(ctx, cfg, "connect", func(ctx context.Context, attempt int) error {
		return errors.New("down")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestDelay(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, Delay(cfg, 1))
	assert.Equal(t, 2*time.Second, Delay(cfg, 2))
	assert.Equal(t, 8*time.Second, Delay(cfg, 4))
	assert.Equal(t, 30*time.Second, Delay(cfg, 10))
}
