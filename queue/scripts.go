package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// State transitions touch several keys at once (lists, the job hash, the
// lock). Each transition is one Lua script so a crash mid-transition cannot
// leave a job half-moved.

// claimScript pops the oldest waiting id into the active list and takes the
// processing lock in the same step.
// KEYS: wait, active. ARGV: lockPrefix, token, lockMs, jobPrefix.
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then return false end
redis.call('SET', ARGV[1] .. id, ARGV[2], 'PX', tonumber(ARGV[3]))
redis.call('HSET', ARGV[4] .. id, 'state', 'active')
return id
`)

// completeScript finishes a job the caller still holds the lock for. Returns
// 0 when the lock was lost, meaning the job was reclaimed as stalled and must
// not be touched.
// KEYS: active. ARGV: id, jobPrefix, lockPrefix, token.
var completeScript = redis.NewScript(`
local id = ARGV[1]
local lockKey = ARGV[3] .. id
if redis.call('GET', lockKey) ~= ARGV[4] then return 0 end
redis.call('DEL', lockKey)
redis.call('LREM', KEYS[1], 1, id)
local jobKey = ARGV[2] .. id
if redis.call('HGET', jobKey, 'removeOnComplete') == '1' then
	redis.call('DEL', jobKey)
else
	redis.call('HSET', jobKey, 'state', 'completed')
end
return 1
`)

// failScript records a failed attempt and either schedules a retry or
// retires the job. Returns 0 when the lock was lost.
// KEYS: active, delayed, failed.
// ARGV: id, jobPrefix, lockPrefix, token, attemptsMade, reason, verdict, retryAtMs.
var failScript = redis.NewScript(`
local id = ARGV[1]
local lockKey = ARGV[3] .. id
if redis.call('GET', lockKey) ~= ARGV[4] then return 0 end
redis.call('DEL', lockKey)
redis.call('LREM', KEYS[1], 1, id)
local jobKey = ARGV[2] .. id
redis.call('HSET', jobKey, 'attemptsMade', ARGV[5], 'failedReason', ARGV[6])
if ARGV[7] == 'retry' then
	redis.call('HSET', jobKey, 'state', 'delayed')
	redis.call('ZADD', KEYS[2], tonumber(ARGV[8]), id)
else
	if redis.call('HGET', jobKey, 'removeOnFail') == '1' then
		redis.call('DEL', jobKey)
	else
		redis.call('HSET', jobKey, 'state', 'failed')
		redis.call('LPUSH', KEYS[3], id)
	end
end
return 1
`)

// promoteScript moves delayed jobs whose time has come onto the waiting
// list. Returns the number promoted.
// KEYS: delayed, wait. ARGV: nowMs, jobPrefix, limit.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
end
return #ids
`)

// stalledScript returns active jobs whose lock has expired to the head of
// the waiting list, so reclaimed work runs before fresh work.
// KEYS: active, wait. ARGV: lockPrefix, jobPrefix.
var stalledScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local reclaimed = 0
for _, id in ipairs(ids) do
	if redis.call('EXISTS', ARGV[1] .. id) == 0 then
		redis.call('LREM', KEYS[1], 1, id)
		redis.call('RPUSH', KEYS[2], id)
		redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
		reclaimed = reclaimed + 1
	end
end
return reclaimed
`)

// extendLockScript renews the processing lock only while we still own it.
// KEYS: lock. ARGV: token, lockMs.
var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return 0
`)

// claim atomically takes the next waiting job. A nil job with nil error
// means the queue is empty.
func (q *Queue) claim(ctx context.Context, token string, lockDuration time.Duration) (*Job, error) {
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.waitKey(), q.activeKey()},
		q.lockKeyPrefix(), token, lockDuration.Milliseconds(), q.jobKeyPrefix(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, nil
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a claimed job as successfully processed.
func (q *Queue) Complete(ctx context.Context, job *Job, token string) error {
	res, err := completeScript.Run(ctx, q.client,
		[]string{q.activeKey()},
		job.ID, q.jobKeyPrefix(), q.lockKeyPrefix(), token,
	).Int()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if res == 0 {
		return fmt.Errorf("complete job %s: %w", job.ID, ErrLockLost)
	}
	return nil
}

// Fail records a failed attempt. The job is rescheduled with backoff while
// attempts remain, otherwise retired to the failed list.
func (q *Queue) Fail(ctx context.Context, job *Job, token string, reason string) error {
	job.AttemptsMade++
	verdict := "final"
	var retryAt int64
	if job.AttemptsMade < job.Attempts {
		verdict = "retry"
		retryAt = time.Now().Add(job.RetryDelay()).UnixMilli()
	}
	res, err := failScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.delayedKey(), q.failedKey()},
		job.ID, q.jobKeyPrefix(), q.lockKeyPrefix(), token,
		strconv.Itoa(job.AttemptsMade), reason, verdict, retryAt,
	).Int()
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if res == 0 {
		return fmt.Errorf("fail job %s: %w", job.ID, ErrLockLost)
	}
	return nil
}

// PromoteDelayed moves due delayed jobs to the waiting list.
func (q *Queue) PromoteDelayed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.waitKey()},
		time.Now().UnixMilli(), q.jobKeyPrefix(), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// ReclaimStalled requeues active jobs whose processing lock has expired.
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	n, err := stalledScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.waitKey()},
		q.lockKeyPrefix(), q.jobKeyPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaim stalled jobs: %w", err)
	}
	return n, nil
}

func (q *Queue) extendLock(ctx context.Context, id, token string, lockDuration time.Duration) (bool, error) {
	res, err := extendLockScript.Run(ctx, q.client,
		[]string{q.lockKey(id)},
		token, lockDuration.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
