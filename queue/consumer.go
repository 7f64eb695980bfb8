package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one claimed job. A nil return completes the job; an
// error records a failed attempt and triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// ConsumerOptions tune a consumer. Zero values get defaults.
type ConsumerOptions struct {
	// Concurrency is the number of parallel claim loops. Default 1.
	Concurrency int
	// LockDuration is the processing lease per job. It is renewed at a
	// third of its length while the handler runs. Default 30s.
	LockDuration time.Duration
	// PollInterval is the sleep between claim attempts on an empty queue.
	// Default 100ms.
	PollInterval time.Duration
	// StalledInterval is how often expired locks are scanned for and
	// delayed jobs promoted. Default 5s.
	StalledInterval time.Duration
	// Events receives lifecycle notifications. Default NoopEvents.
	Events Events
}

func (o *ConsumerOptions) applyDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = 5 * time.Second
	}
	if o.Events == nil {
		o.Events = NoopEvents{}
	}
}

// Consumer runs claim loops against a queue until closed.
type Consumer struct {
	queue   *Queue
	handler Handler
	opts    ConsumerOptions
	logger  *zap.Logger

	// seenWork arms the drained event; it fires once per armed period when
	// the waiting list comes up empty with nothing in flight.
	seenWork atomic.Bool
	inFlight atomic.Int64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Consume starts processing jobs with the given handler. It returns
// immediately; processing stops when ctx is cancelled or Close is called.
func (q *Queue) Consume(ctx context.Context, handler Handler, opts ConsumerOptions) *Consumer {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Consumer{
		queue:   q,
		handler: handler,
		opts:    opts,
		logger:  q.logger.With(zap.String("component", "queue-consumer")),
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.maintenanceLoop(ctx)

	for i := 0; i < opts.Concurrency; i++ {
		c.wg.Add(1)
		go c.claimLoop(ctx)
	}
	return c
}

// Close stops claiming new jobs and waits for in-flight handlers to finish.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

// maintenanceLoop promotes due delayed jobs and requeues stalled ones.
func (c *Consumer) maintenanceLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := c.queue.PromoteDelayed(ctx, 0); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("failed to promote delayed jobs", zap.Error(err))
			}
		} else if n > 0 {
			c.logger.Debug("promoted delayed jobs", zap.Int("count", n))
		}
		if n, err := c.queue.ReclaimStalled(ctx); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("failed to reclaim stalled jobs", zap.Error(err))
			}
		} else if n > 0 {
			c.logger.Warn("reclaimed stalled jobs", zap.Int("count", n))
		}
	}
}

func (c *Consumer) claimLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		worked := c.claimOne(ctx)
		if worked {
			continue
		}
		if c.seenWork.Load() && c.inFlight.Load() == 0 {
			if c.seenWork.CompareAndSwap(true, false) {
				c.opts.Events.OnDrained(ctx)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.PollInterval):
		}
	}
}

// claimOne claims and fully processes a single job. It reports whether a job
// was found.
func (c *Consumer) claimOne(ctx context.Context) bool {
	token := uuid.NewString()
	job, err := c.queue.claim(ctx, token, c.opts.LockDuration)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("claim failed", zap.Error(err))
		}
		return false
	}
	if job == nil {
		return false
	}

	c.seenWork.Store(true)
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	c.opts.Events.OnActive(ctx, job)

	// Keep the lease alive while the handler runs. Processing outlives ctx
	// cancellation so Close can wait for a clean finish.
	jobCtx, stopExtend := context.WithCancel(context.Background())
	extendDone := make(chan struct{})
	go func() {
		defer close(extendDone)
		interval := c.opts.LockDuration / 3
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				ok, err := c.queue.extendLock(jobCtx, job.ID, token, c.opts.LockDuration)
				if err != nil && jobCtx.Err() == nil {
					c.logger.Error("lock extension failed", zap.String("jobId", job.ID), zap.Error(err))
				} else if err == nil && !ok {
					c.logger.Warn("processing lock lost", zap.String("jobId", job.ID))
					return
				}
			}
		}
	}()

	handlerErr := c.runHandler(jobCtx, job)

	stopExtend()
	<-extendDone

	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFinish()

	if handlerErr == nil {
		if err := c.queue.Complete(finishCtx, job, token); err != nil {
			if !errors.Is(err, ErrLockLost) {
				c.logger.Error("failed to complete job", zap.String("jobId", job.ID), zap.Error(err))
			}
			return true
		}
		c.opts.Events.OnCompleted(finishCtx, job)
		return true
	}

	if err := c.queue.Fail(finishCtx, job, token, handlerErr.Error()); err != nil {
		if !errors.Is(err, ErrLockLost) {
			c.logger.Error("failed to record job failure", zap.String("jobId", job.ID), zap.Error(err))
		}
		return true
	}
	c.opts.Events.OnFailed(finishCtx, job, handlerErr)
	return true
}

func (c *Consumer) runHandler(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job handler panicked",
				zap.String("jobId", job.ID),
				zap.Any("panic", r))
			err = &panicError{value: r}
		}
	}()
	return c.handler(ctx, job)
}

type panicError struct{ value interface{} }

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
