// Package dispatch pages recipients out of a caller-supplied data source and
// fans them into queued send jobs, one job per page.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/queue"
	"github.com/ignite/fanout/ratelimit"
	"github.com/ignite/fanout/retry"
	"github.com/ignite/fanout/stats"
	"github.com/ignite/fanout/store"
)

// Paging and enqueue retry tuning.
const (
	DefaultBatchSize        = 1000
	DefaultEnqueueRetries   = 3
	DefaultEnqueueBaseDelay = 200 * time.Millisecond

	queryRetries   = 4
	queryBaseDelay = 500 * time.Millisecond

	// batchHandlers caps pages being mapped and enqueued in parallel while
	// the main loop keeps paging.
	batchHandlers = 3
)

// Pager returns one page of records starting at offset. An empty page ends
// the dispatch.
type Pager func(ctx context.Context, offset, limit int) ([]interface{}, error)

// Config describes one dispatch run.
type Config struct {
	// StoreClient is an externally owned connection; Dispatch will not
	// close it. Exactly one of StoreClient and Store must be set.
	StoreClient *redis.Client
	// Store builds a dispatch-owned connection, closed on exit.
	Store *store.Options

	// ChannelName routes the jobs to a registered adapter. Required.
	ChannelName string
	// Pager supplies recipient records. Required.
	Pager Pager
	// MapRecipient extracts the recipient string from a record. Required.
	MapRecipient func(record interface{}) string
	// BuildMeta builds the channel-typed meta for a record. Required. A
	// per-record failure is logged and leaves that slot's meta empty.
	BuildMeta func(record interface{}) (job.Meta, error)

	// QueueName and JobName address the queue. Both required.
	QueueName string
	JobName   string

	// CampaignID tags jobs for cancellation and log correlation.
	CampaignID string

	// BatchSize is records per page and per job. Default 1000.
	BatchSize int
	// MaxQueriesPerSecond throttles paging. Zero means unthrottled.
	MaxQueriesPerSecond float64

	// TrackResponses asks workers to record per-recipient stats.
	TrackResponses bool
	// TrackingKey overrides the stats hash key.
	TrackingKey string

	// JobOptions are merged with queue defaults.
	JobOptions queue.AddOptions
	// EnqueueRetries and EnqueueBaseDelay tune the enqueue retry loop.
	EnqueueRetries   int
	EnqueueBaseDelay time.Duration

	Logger *zap.Logger
}

func (cfg *Config) validate() error {
	switch {
	case cfg.ChannelName == "":
		return fmt.Errorf("%w: channel name required", fanout.ErrConfig)
	case cfg.Pager == nil:
		return fmt.Errorf("%w: pager required", fanout.ErrConfig)
	case cfg.MapRecipient == nil:
		return fmt.Errorf("%w: recipient mapper required", fanout.ErrConfig)
	case cfg.BuildMeta == nil:
		return fmt.Errorf("%w: meta builder required", fanout.ErrConfig)
	case cfg.QueueName == "":
		return fmt.Errorf("%w: queue name required", fanout.ErrConfig)
	case cfg.JobName == "":
		return fmt.Errorf("%w: job name required", fanout.ErrConfig)
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.EnqueueRetries <= 0 {
		cfg.EnqueueRetries = DefaultEnqueueRetries
	}
	if cfg.EnqueueBaseDelay <= 0 {
		cfg.EnqueueBaseDelay = DefaultEnqueueBaseDelay
	}
	if cfg.TrackingKey == "" {
		cfg.TrackingKey = stats.DefaultTrackingKey
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// Dispatch pages through the data source and enqueues one job per non-empty
// page. It returns after the final page is enqueued, or on the first page
// that permanently fails to fetch or enqueue.
func Dispatch(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	cfg.applyDefaults()
	logger := cfg.Logger.With(
		zap.String("component", "dispatch"),
		zap.String("queue", cfg.QueueName),
		zap.String("channel", cfg.ChannelName),
		zap.String("campaignId", cfg.CampaignID),
	)

	handle, err := store.Resolve(ctx, cfg.StoreClient, cfg.Store)
	if err != nil {
		return err
	}
	defer handle.Close()

	var limiter *ratelimit.TokenBucket
	if cfg.MaxQueriesPerSecond > 0 {
		limiter, err = ratelimit.NewTokenBucket(cfg.MaxQueriesPerSecond)
		if err != nil {
			return err
		}
	}

	q := queue.New(handle.Client, cfg.QueueName, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(batchHandlers)

	offset := 0
	pages := 0
	for {
		if err := groupCtx.Err(); err != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Acquire(groupCtx); err != nil {
				break
			}
		}

		var records []interface{}
		pageOffset := offset
		err := retry.Do(groupCtx, logger, "db_query", queryRetries, queryBaseDelay, func() error {
			var qErr error
			records, qErr = cfg.Pager(groupCtx, pageOffset, cfg.BatchSize)
			return qErr
		})
		if err != nil {
			group.Wait()
			return fmt.Errorf("fetch page at offset %d: %w", pageOffset, err)
		}
		if len(records) == 0 {
			break
		}
		offset += len(records)
		pages++

		batch := records
		group.Go(func() error {
			return enqueueBatch(groupCtx, &cfg, q, logger, batch)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("dispatch finished",
		zap.Int("pages", pages),
		zap.Int("records", offset))
	return nil
}

// enqueueBatch maps one page of records into a job payload and enqueues it
// with retries.
func enqueueBatch(ctx context.Context, cfg *Config, q *queue.Queue, logger *zap.Logger, records []interface{}) error {
	userIDs := make([]string, len(records))
	metas := make([]job.Meta, len(records))
	for i, record := range records {
		userIDs[i] = cfg.MapRecipient(record)
		meta, err := cfg.BuildMeta(record)
		if err != nil {
			logger.Warn("failed to build meta, leaving slot empty",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		metas[i] = meta
	}

	payload, err := (&job.Job{
		UserIDs:        userIDs,
		Channel:        cfg.ChannelName,
		Meta:           metas,
		TrackResponses: cfg.TrackResponses,
		TrackingKey:    cfg.TrackingKey,
		CampaignID:     cfg.CampaignID,
	}).Encode()
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}

	return retry.Do(ctx, logger, "enqueue", cfg.EnqueueRetries, cfg.EnqueueBaseDelay, func() error {
		_, addErr := q.Add(ctx, cfg.JobName, payload, cfg.JobOptions)
		return addErr
	})
}
