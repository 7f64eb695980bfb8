package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return New(client, "test", nil), mr
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	id1, err := q.Add(ctx, "send", []byte(`{"a":1}`), AddOptions{})
	require.NoError(t, err)
	id2, err := q.Add(ctx, "send", []byte(`{"a":2}`), AddOptions{})
	require.NoError(t, err)

	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2)

	counts, err := q.JobCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Waiting)
}

func TestAddRequiresJobName(t *testing.T) {
	q, _ := setupQueue(t)
	_, err := q.Add(context.Background(), "", nil, AddOptions{})
	require.Error(t, err)
}

func TestClaimIsFIFO(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	for _, payload := range []string{"first", "second", "third"} {
		_, err := q.Add(ctx, "send", []byte(payload), AddOptions{})
		require.NoError(t, err)
	}

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.claim(ctx, "tok", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, string(job.Data))
		assert.Equal(t, StateActive, job.State)
	}

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue claims nothing")
}

func TestCompleteRemovesJobByDefault(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	id, err := q.Add(ctx, "send", []byte("x"), AddOptions{})
	require.NoError(t, err)

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, "tok"))

	_, err = q.GetJob(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)

	counts, err := q.JobCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Active)
}

func TestCompleteKeepsJobWhenAsked(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	var opts AddOptions
	opts.SetRemoveOnComplete(false)
	id, err := q.Add(ctx, "send", []byte("x"), opts)
	require.NoError(t, err)

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, "tok"))

	kept, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, kept.State)
}

func TestCompleteWithWrongTokenIsRejected(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "send", []byte("x"), AddOptions{})
	require.NoError(t, err)
	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)

	err = q.Complete(ctx, job, "someone-else")
	assert.ErrorIs(t, err, ErrLockLost)
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	id, err := q.Add(ctx, "send", []byte("x"), AddOptions{
		Attempts: 3,
		Backoff:  Backoff{Type: BackoffExponential, Delay: time.Minute},
	})
	require.NoError(t, err)

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, "tok", "smtp timeout"))

	counts, err := q.JobCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Delayed)
	assert.Zero(t, counts.Failed)

	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, stored.State)
	assert.Equal(t, 1, stored.AttemptsMade)
	assert.Equal(t, "smtp timeout", stored.FailedReason)
}

func TestFailFinalAttemptRetainsFailedJob(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	id, err := q.Add(ctx, "send", []byte("x"), AddOptions{Attempts: 1})
	require.NoError(t, err)

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, "tok", "bad payload"))

	failed, err := q.FailedJobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, failed)

	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, "bad payload", stored.FailedReason)
}

func TestFailFinalAttemptRemoveOnFail(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	var opts AddOptions
	opts.Attempts = 1
	opts.SetRemoveOnFail(true)
	id, err := q.Add(ctx, "send", []byte("x"), opts)
	require.NoError(t, err)

	job, err := q.claim(ctx, "tok", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, "tok", "boom"))

	_, err = q.GetJob(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)

	failed, err := q.FailedJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestPromoteDelayed(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "send", []byte("x"), AddOptions{Delay: 100 * time.Millisecond})
	require.NoError(t, err)

	n, err := q.PromoteDelayed(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	// Delayed scores are wall-clock, so wait out the real delay.
	time.Sleep(150 * time.Millisecond)

	n, err = q.PromoteDelayed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := q.JobCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Waiting)
	assert.Zero(t, counts.Delayed)
}

func TestReclaimStalled(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	id, err := q.Add(ctx, "send", []byte("x"), AddOptions{})
	require.NoError(t, err)

	_, err = q.claim(ctx, "tok", 50*time.Millisecond)
	require.NoError(t, err)

	n, err := q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lock still held")

	mr.FastForward(time.Second) // expires the lock key

	n, err = q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.claim(ctx, "tok2", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestRetryDelayGrowth(t *testing.T) {
	j := &Job{Backoff: Backoff{Type: BackoffExponential, Delay: 100 * time.Millisecond}}

	j.AttemptsMade = 1
	assert.Equal(t, 100*time.Millisecond, j.RetryDelay())
	j.AttemptsMade = 2
	assert.Equal(t, 200*time.Millisecond, j.RetryDelay())
	j.AttemptsMade = 3
	assert.Equal(t, 400*time.Millisecond, j.RetryDelay())

	j.Backoff.Type = BackoffFixed
	assert.Equal(t, 100*time.Millisecond, j.RetryDelay())
}

func TestJobCountsEmpty(t *testing.T) {
	q, _ := setupQueue(t)
	counts, err := q.JobCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}
