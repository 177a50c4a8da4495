package utils

import (
	"context"
	"fmt"
	"time"

	"task-notification-service/internal/logging"
)

// Retry calls fn until it succeeds or maxAttempts is reached, doubling delay
// after each failure. A cancelled ctx ends the loop early.
func Retry(ctx context.Context, logger *logging.Logger, maxAttempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			logger.Warnf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
			if attempt == maxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
