// Package resilience provides a small retry helper with exponential backoff,
// used around the document-store scan during full index rebuilds.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig controls attempt count and backoff growth.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is suitable for short-lived transient failures such as
// a database restarting underneath a rebuild.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retry runs fn until it succeeds, attempts are exhausted, or ctx is
// cancelled. Backoff doubles per attempt, capped at MaxDelay.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		slog.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}
