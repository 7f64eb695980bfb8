package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/logging"
	"github.com/ignite/fanout/ratelimit"
)

// SendFunc performs one outbound call for one recipient. It must map every
// transport failure to a Result; anything it panics with is converted to an
// INTERNAL_SEND_ERROR result by the batch sender.
type SendFunc func(ctx context.Context, index int, recipient string, meta job.Meta, logger *zap.Logger) Result

// SendBatch validates, schedules, and aggregates the per-recipient sends of
// one job. The returned slice is index-aligned with recipients: the i-th
// result always describes the i-th input, regardless of completion order.
//
// At most concurrency sends are awaiting submission at once, and the
// limiter additionally enforces the channel's rate and in-flight caps. A nil
// limiter runs sends directly, which tests use.
func SendBatch(ctx context.Context, recipients []string, metas []job.Meta, limiter *ratelimit.MinTime, sendOne SendFunc, concurrency int, logger *zap.Logger) []Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]Result, len(recipients))
	filled := make([]bool, len(recipients))
	skipped := 0

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, recipient := range recipients {
		if recipient == "" {
			results[i] = Failure(InvalidRecipientPlaceholder(i), ErrInvalidRecipient)
			filled[i] = true
			skipped++
			continue
		}
		if i >= len(metas) || metas[i].IsZero() {
			results[i] = Failure(recipient, ErrMissingMeta)
			filled[i] = true
			skipped++
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, recipient string, meta job.Meta) {
			defer wg.Done()
			defer func() { <-sem }()

			task := func() {
				defer func() {
					if r := recover(); r != nil {
						results[i] = FailureWithResponse(recipient, ErrInternalSend, fmt.Sprint(r))
						filled[i] = true
					}
				}()
				child := logger.With(zap.String("recipient", logging.Recipient(recipient)))
				results[i] = sendOne(ctx, i, recipient, meta, child)
				filled[i] = true
			}

			if limiter == nil {
				task()
				return
			}
			// A schedule error means the task never started (shutdown or
			// context expiry); the slot is finalized below.
			_ = limiter.Schedule(ctx, task)
		}(i, recipient, metas[i])
	}

	wg.Wait()

	success, failure := 0, 0
	for i := range results {
		if !filled[i] {
			results[i] = Failure(recipients[i], ErrSkipped)
		}
		if results[i].Status == StatusSuccess {
			success++
		} else {
			failure++
		}
	}
	failure -= skipped

	logger.Info("batch send complete",
		zap.Int("success_count", success),
		zap.Int("failure_count", failure),
		zap.Int("skipped_count", skipped),
		zap.Int("total_attempted", len(recipients)))

	return results
}
