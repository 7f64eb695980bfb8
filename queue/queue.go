// Package queue implements the durable Redis job queue that hands work from
// producers to workers. Jobs live in per-job hashes; their ids flow through
// a waiting list, a delayed sorted set, and an active list. Multi-key state
// transitions run as Lua scripts so a crash between commands cannot strand
// a job.
//
// Delivery is at-least-once: a worker crash leaves the job in the active
// list with an expired lock, and the stalled scan returns it to the waiting
// list. FIFO order holds per producer; completed jobs are removed or kept
// according to their options, failed jobs are retained for inspection.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Queue is a named job queue over a shared Redis connection. The connection
// is owned by the caller.
type Queue struct {
	client *redis.Client
	name   string
	logger *zap.Logger
}

// New binds a queue name to a Redis connection.
func New(client *redis.Client, name string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client: client,
		name:   name,
		logger: logger.With(zap.String("component", "queue"), zap.String("queue", name)),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Key layout. Everything for one queue shares the "queue:<name>:" prefix.
func (q *Queue) key(suffix string) string { return "queue:" + q.name + ":" + suffix }

func (q *Queue) idKey() string            { return q.key("id") }
func (q *Queue) waitKey() string          { return q.key("wait") }
func (q *Queue) activeKey() string        { return q.key("active") }
func (q *Queue) delayedKey() string       { return q.key("delayed") }
func (q *Queue) failedKey() string        { return q.key("failed") }
func (q *Queue) jobKeyPrefix() string     { return q.key("job:") }
func (q *Queue) jobKey(id string) string  { return q.jobKeyPrefix() + id }
func (q *Queue) lockKeyPrefix() string    { return q.key("lock:") }
func (q *Queue) lockKey(id string) string { return q.lockKeyPrefix() + id }

// Add persists a job and makes it claimable, immediately or after the
// configured delay. It returns the assigned job id.
func (q *Queue) Add(ctx context.Context, jobName string, payload []byte, opts AddOptions) (string, error) {
	if jobName == "" {
		return "", fmt.Errorf("job name required")
	}
	opts.applyDefaults()

	seq, err := q.client.Incr(ctx, q.idKey()).Result()
	if err != nil {
		return "", fmt.Errorf("allocate job id: %w", err)
	}
	id := strconv.FormatInt(seq, 10)

	now := time.Now()
	fields := map[string]interface{}{
		"name":             jobName,
		"data":             payload,
		"attempts":         opts.Attempts,
		"attemptsMade":     0,
		"backoffType":      opts.Backoff.Type,
		"backoffDelayMs":   opts.Backoff.Delay.Milliseconds(),
		"removeOnComplete": boolField(opts.RemoveOnComplete),
		"removeOnFail":     boolField(opts.RemoveOnFail),
		"delayMs":          opts.Delay.Milliseconds(),
		"timestamp":        now.UnixMilli(),
	}

	pipe := q.client.TxPipeline()
	if opts.Delay > 0 {
		fields["state"] = StateDelayed
		pipe.HSet(ctx, q.jobKey(id), fields)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(now.Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		fields["state"] = StateWaiting
		pipe.HSet(ctx, q.jobKey(id), fields)
		pipe.LPush(ctx, q.waitKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", id, err)
	}

	q.logger.Debug("job added",
		zap.String("jobId", id),
		zap.String("jobName", jobName),
		zap.Duration("delay", opts.Delay))
	return id, nil
}

// Counts is a snapshot of queue depth by state.
type Counts struct {
	Active  int64
	Waiting int64
	Delayed int64
	Failed  int64
}

// JobCounts reads the queue depth in one round trip.
func (q *Queue) JobCounts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	activeCmd := pipe.LLen(ctx, q.activeKey())
	waitCmd := pipe.LLen(ctx, q.waitKey())
	delayedCmd := pipe.ZCard(ctx, q.delayedKey())
	failedCmd := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("read job counts: %w", err)
	}
	return Counts{
		Active:  activeCmd.Val(),
		Waiting: waitCmd.Val(),
		Delayed: delayedCmd.Val(),
		Failed:  failedCmd.Val(),
	}, nil
}

// FailedJobIDs lists the retained failed job ids, newest first.
func (q *Queue) FailedJobIDs(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.failedKey(), 0, -1).Result()
}

// GetJob loads a job hash by id, or ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return jobFromHash(id, raw), nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
