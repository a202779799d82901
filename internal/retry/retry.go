// Package retry retries store connections at process start with exponential backoff.
// The snapshot pipeline itself never retries within a tick.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vault-snapshots/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig backs off 1s, 2s, 4s, 8s, capped at 30s, over 5 attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Result describes a finished retry loop
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// WithExponentialBackoff runs fn until it succeeds, attempts run out or ctx is done.
func WithExponentialBackoff(ctx context.Context, cfg Config, op string, fn Func) *Result {
	logger := logging.FromContext(ctx).WithField("operation", op)
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if attempt == cfg.MaxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Error("Operation failed after max retry attempts")
			break
		}

		delay := Delay(cfg, attempt)
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": cfg.MaxAttempts,
			"delay":       delay.String(),
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Do is WithExponentialBackoff returning an error.
func Do(ctx context.Context, cfg Config, op string, fn Func) error {
	result := WithExponentialBackoff(ctx, cfg, op, fn)
	if !result.Success {
		return fmt.Errorf("%s failed after %d attempts: %w", op, result.Attempts, result.LastError)
	}
	return nil
}

// Delay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func Delay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
