// Package worker consumes send jobs from the queue, routes them through the
// registered channel adapters, and records per-recipient outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/metrics"
	"github.com/ignite/fanout/queue"
	"github.com/ignite/fanout/stats"
	"github.com/ignite/fanout/store"
)

// ErrInvalidJob marks a payload the worker cannot process; retrying it is up
// to the job's queue options.
var ErrInvalidJob = errors.New("invalid job payload")

// DefaultConcurrency is the in-flight job cap.
const DefaultConcurrency = 10

// Drain confirmation polling.
const (
	drainPolls        = 10
	drainPollInterval = 1500 * time.Millisecond
)

// Callbacks are optional hooks into the job lifecycle. Panics inside them
// are caught and logged, never propagated.
type Callbacks struct {
	// OnStart runs before a job's adapter is invoked.
	OnStart func(j *job.Job, logger *zap.Logger)
	// OnComplete runs after a job completes, with the current stats hash.
	OnComplete func(j *job.Job, statsHash map[string]int64, logger *zap.Logger)
	// OnDrained runs once the queue is confirmed empty after work.
	OnDrained func(logger *zap.Logger)
}

// Config configures a worker manager.
type Config struct {
	// StoreClient is an externally owned connection; the manager will not
	// close it. Exactly one of StoreClient and Store must be set.
	StoreClient *redis.Client
	// Store builds a manager-owned connection, closed on Close.
	Store *store.Options

	// QueueName addresses the queue to consume. Required.
	QueueName string
	// Registry resolves channel adapters. Required.
	Registry *channel.Registry

	// Concurrency caps in-flight jobs. Default 10.
	Concurrency int
	// TrackingKey is used when a job payload omits one.
	TrackingKey string
	// ResetStatsAfterCompletion deletes the stats hash after each
	// completed job's OnComplete callback.
	ResetStatsAfterCompletion bool

	Callbacks Callbacks

	// Queue passthrough.
	LockDuration    time.Duration
	PollInterval    time.Duration
	StalledInterval time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Manager is a running worker. It implements queue.Events.
type Manager struct {
	cfg     Config
	handle  *store.Handle
	queue   *queue.Queue
	logger  *zap.Logger
	metrics *metrics.Metrics

	consumer *queue.Consumer

	// drainInterval is shortened in tests.
	drainInterval time.Duration
}

// Start resolves the store, builds the queue, and begins consuming.
func Start(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("%w: queue name required", fanout.ErrConfig)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: channel registry required", fanout.ErrConfig)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TrackingKey == "" {
		cfg.TrackingKey = stats.DefaultTrackingKey
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	handle, err := store.Resolve(ctx, cfg.StoreClient, cfg.Store)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger.With(
		zap.String("component", "worker"),
		zap.String("queue", cfg.QueueName),
	)
	m := &Manager{
		cfg:           cfg,
		handle:        handle,
		queue:         queue.New(handle.Client, cfg.QueueName, cfg.Logger),
		logger:        logger,
		metrics:       cfg.Metrics,
		drainInterval: drainPollInterval,
	}

	m.consumer = m.queue.Consume(ctx, m.handleJob, queue.ConsumerOptions{
		Concurrency:     cfg.Concurrency,
		LockDuration:    cfg.LockDuration,
		PollInterval:    cfg.PollInterval,
		StalledInterval: cfg.StalledInterval,
		Events:          m,
	})
	logger.Info("worker started", zap.Int("concurrency", cfg.Concurrency))
	return m, nil
}

// Close stops claiming jobs, waits for in-flight jobs, and closes the store
// handle iff the manager owns it.
func (m *Manager) Close() {
	m.consumer.Close()
	if err := m.handle.Close(); err != nil {
		m.logger.Error("failed to close store handle", zap.Error(err))
	}
	m.logger.Info("worker stopped")
}

// handleJob runs the per-job protocol.
func (m *Manager) handleJob(ctx context.Context, qj *queue.Job) error {
	started := time.Now()

	decoded, err := job.Decode(qj.Data)
	if err != nil {
		m.logger.Error("job payload rejected",
			zap.String("jobId", qj.ID),
			zap.Error(err))
		m.metrics.JobProcessed(m.cfg.QueueName, "invalid", time.Since(started))
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	logger := m.logger.With(
		zap.String("jobId", qj.ID),
		zap.String("jobName", qj.Name),
		zap.String("campaignId", decoded.CampaignID),
		zap.String("channel", decoded.Channel),
	)

	m.safeOnStart(decoded, logger)

	if decoded.CampaignID != "" {
		cancelled, err := store.IsCancelled(ctx, m.handle.Client, decoded.CampaignID)
		if err != nil {
			// A flag we cannot read does not block the send.
			logger.Error("failed to read cancellation flag", zap.Error(err))
		}
		if cancelled {
			logger.Info("campaign cancelled, skipping job")
			m.metrics.JobProcessed(m.cfg.QueueName, "skipped", time.Since(started))
			return nil
		}
	}

	trackingKey := decoded.TrackingKey
	if trackingKey == "" {
		trackingKey = m.cfg.TrackingKey
	}

	adapter, err := m.cfg.Registry.Get(decoded.Channel)
	if err != nil {
		logger.Error("no adapter for channel", zap.Error(err))
		if decoded.TrackResponses {
			stats.TrackError(ctx, m.handle.Client, trackingKey, err.Error(), logger)
		}
		m.metrics.JobProcessed(m.cfg.QueueName, "failed", time.Since(started))
		return err
	}

	logger.Info("processing job", zap.Int("recipients", len(decoded.UserIDs)))
	results := adapter.Send(ctx, decoded.UserIDs, decoded.Meta, logger)

	if decoded.TrackResponses {
		stats.Track(ctx, m.handle.Client, trackingKey, results, logger)
	}
	m.recordResults(decoded.Channel, results)
	m.metrics.JobProcessed(m.cfg.QueueName, "completed", time.Since(started))
	return nil
}

func (m *Manager) recordResults(channelName string, results []channel.Result) {
	success, failed := 0, 0
	for _, r := range results {
		if r.Status == channel.StatusSuccess {
			success++
		} else {
			failed++
		}
	}
	m.metrics.SendResults(channelName, "success", success)
	m.metrics.SendResults(channelName, "error", failed)
}

// OnActive implements queue.Events.
func (m *Manager) OnActive(ctx context.Context, qj *queue.Job) {
	m.logger.Debug("job claimed", zap.String("jobId", qj.ID))
}

// OnCompleted implements queue.Events: read the stats hash, hand it to the
// completion callback, optionally reset.
func (m *Manager) OnCompleted(ctx context.Context, qj *queue.Job) {
	decoded, err := job.Decode(qj.Data)
	if err != nil {
		return
	}
	logger := m.logger.With(
		zap.String("jobId", qj.ID),
		zap.String("campaignId", decoded.CampaignID),
	)

	trackingKey := decoded.TrackingKey
	if trackingKey == "" {
		trackingKey = m.cfg.TrackingKey
	}
	statsHash := stats.Get(ctx, m.handle.Client, trackingKey, logger)

	m.safeOnComplete(decoded, statsHash, logger)

	if m.cfg.ResetStatsAfterCompletion {
		stats.Reset(ctx, m.handle.Client, trackingKey, logger)
	}
}

// OnFailed implements queue.Events.
func (m *Manager) OnFailed(ctx context.Context, qj *queue.Job, err error) {
	m.logger.Warn("job attempt failed",
		zap.String("jobId", qj.ID),
		zap.Int("attemptsMade", qj.AttemptsMade),
		zap.Int("attempts", qj.Attempts),
		zap.Error(err))
	m.metrics.JobProcessed(m.cfg.QueueName, "failed", 0)
}

// OnDrained implements queue.Events: confirm the queue is actually empty
// before telling the caller, since delayed retries may still be pending.
func (m *Manager) OnDrained(ctx context.Context) {
	for i := 0; i < drainPolls; i++ {
		counts, err := m.queue.JobCounts(ctx)
		if err != nil {
			m.logger.Error("failed to read job counts during drain check", zap.Error(err))
		} else {
			m.metrics.SetQueueDepth(m.cfg.QueueName, "waiting", counts.Waiting)
			m.metrics.SetQueueDepth(m.cfg.QueueName, "delayed", counts.Delayed)
			m.metrics.SetQueueDepth(m.cfg.QueueName, "active", counts.Active)
			if counts.Active+counts.Waiting+counts.Delayed == 0 {
				m.logger.Info("queue drained")
				m.safeOnDrained()
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.drainInterval):
		}
	}
	m.logger.Warn("drain signal received but queue never emptied")
}

func (m *Manager) safeOnStart(j *job.Job, logger *zap.Logger) {
	if m.cfg.Callbacks.OnStart == nil {
		return
	}
	defer m.recoverCallback("on_start")
	m.cfg.Callbacks.OnStart(j, logger)
}

func (m *Manager) safeOnComplete(j *job.Job, statsHash map[string]int64, logger *zap.Logger) {
	if m.cfg.Callbacks.OnComplete == nil {
		return
	}
	defer m.recoverCallback("on_complete")
	m.cfg.Callbacks.OnComplete(j, statsHash, logger)
}

func (m *Manager) safeOnDrained() {
	if m.cfg.Callbacks.OnDrained == nil {
		return
	}
	defer m.recoverCallback("on_drained")
	m.cfg.Callbacks.OnDrained(m.logger)
}

func (m *Manager) recoverCallback(name string) {
	if r := recover(); r != nil {
		m.logger.Error("callback panicked",
			zap.String("callback", name),
			zap.Any("panic", r))
	}
}
