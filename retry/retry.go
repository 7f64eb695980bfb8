// Package retry wraps transient external calls (DB pages, enqueues, store
// ops) in exponential-backoff retries.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Do runs op up to maxRetries+1 times. The delay before retry attempt k
// (k >= 1) is baseDelay * 2^(k-1). Each attempt is logged at debug, each
// retry at warn, and the final failure at error before the last error is
// returned. A context cancellation during backoff aborts immediately.
func Do(ctx context.Context, logger *zap.Logger, name string, maxRetries int, baseDelay time.Duration, op func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			logger.Warn("retrying operation",
				zap.String("name", name),
				zap.Int("attempt", attempt),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		logger.Debug("attempting operation", zap.String("name", name), zap.Int("attempt", attempt))
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	logger.Error("operation failed after retries",
		zap.String("name", name),
		zap.Int("maxRetries", maxRetries),
		zap.Error(lastErr))
	return lastErr
}
