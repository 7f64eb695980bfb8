package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/queue"
	"github.com/ignite/fanout/stats"
	"github.com/ignite/fanout/store"
)

type fakeAdapter struct {
	mu    sync.Mutex
	calls [][]string
	// failAll marks every recipient as errored with this key.
	failAll string
}

func (f *fakeAdapter) Name() string { return job.ChannelEmail }

func (f *fakeAdapter) Send(ctx context.Context, recipients []string, metas []job.Meta, logger *zap.Logger) []channel.Result {
	f.mu.Lock()
	f.calls = append(f.calls, recipients)
	f.mu.Unlock()

	results := make([]channel.Result, len(recipients))
	for i, r := range recipients {
		if f.failAll != "" {
			results[i] = channel.Failure(r, f.failAll)
		} else {
			results[i] = channel.Success(r, "sent")
		}
	}
	return results
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func enqueue(t *testing.T, client *redis.Client, queueName string, j *job.Job, opts queue.AddOptions) string {
	t.Helper()
	payload, err := j.Encode()
	require.NoError(t, err)
	id, err := queue.New(client, queueName, nil).Add(context.Background(), "send", payload, opts)
	require.NoError(t, err)
	return id
}

func startWorker(t *testing.T, client *redis.Client, cfg Config) *Manager {
	t.Helper()
	if cfg.StoreClient == nil {
		cfg.StoreClient = client
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "notify"
	}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StalledInterval = 50 * time.Millisecond

	m, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	m.drainInterval = 20 * time.Millisecond
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func emailJob(userIDs []string) *job.Job {
	metas := make([]job.Meta, len(userIDs))
	for i := range metas {
		metas[i] = job.Meta{Email: &job.EmailMeta{Subject: "s"}}
	}
	return &job.Job{
		UserIDs:        userIDs,
		Channel:        job.ChannelEmail,
		Meta:           metas,
		TrackResponses: true,
	}
}

func registryWith(t *testing.T, a channel.Adapter) *channel.Registry {
	t.Helper()
	r := channel.NewRegistry(nil)
	r.Register(job.ChannelEmail, a)
	return r
}

func TestStartValidation(t *testing.T) {
	client, _ := setupStore(t)

	_, err := Start(context.Background(), Config{StoreClient: client, Registry: channel.NewRegistry(nil)})
	assert.ErrorIs(t, err, fanout.ErrConfig, "queue name required")

	_, err = Start(context.Background(), Config{StoreClient: client, QueueName: "q"})
	assert.ErrorIs(t, err, fanout.ErrConfig, "registry required")
}

func TestWorkerProcessesJobAndTracksStats(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var completed atomic.Int64
	var gotStats map[string]int64
	var statsMu sync.Mutex

	startWorker(t, client, Config{
		Registry: registryWith(t, adapter),
		Callbacks: Callbacks{
			OnComplete: func(j *job.Job, statsHash map[string]int64, logger *zap.Logger) {
				statsMu.Lock()
				gotStats = statsHash
				statsMu.Unlock()
				completed.Add(1)
			},
		},
	})

	enqueue(t, client, "notify", emailJob([]string{"a@x", "b@x"}), queue.AddOptions{})

	waitFor(t, 3*time.Second, func() bool { return completed.Load() == 1 })

	assert.Equal(t, 1, adapter.callCount())

	statsMu.Lock()
	defer statsMu.Unlock()
	assert.Equal(t, int64(2), gotStats[stats.CounterSuccess])

	stored := stats.Get(context.Background(), client, stats.DefaultTrackingKey, nil)
	assert.Equal(t, int64(2), stored[stats.CounterSuccess])
}

func TestWorkerSkipsCancelledCampaign(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var completed atomic.Int64
	startWorker(t, client, Config{
		Registry: registryWith(t, adapter),
		Callbacks: Callbacks{
			OnComplete: func(*job.Job, map[string]int64, *zap.Logger) { completed.Add(1) },
		},
	})

	require.NoError(t, store.CancelCampaign(context.Background(), client, "camp-1", 0))

	j := emailJob([]string{"a@x"})
	j.CampaignID = "camp-1"
	enqueue(t, client, "notify", j, queue.AddOptions{})

	waitFor(t, 3*time.Second, func() bool { return completed.Load() == 1 })
	assert.Zero(t, adapter.callCount(), "adapter must not run for a cancelled campaign")

	stored := stats.Get(context.Background(), client, stats.DefaultTrackingKey, nil)
	assert.Empty(t, stored, "skipped jobs track nothing")
}

func TestWorkerFailsInvalidPayload(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}
	startWorker(t, client, Config{Registry: registryWith(t, adapter)})

	q := queue.New(client, "notify", nil)
	id, err := q.Add(context.Background(), "send", []byte(`{"userIds":[]}`), queue.AddOptions{Attempts: 1})
	require.NoError(t, err)

	waitFor(t, 3*time.Second, func() bool {
		failed, err := q.FailedJobIDs(context.Background())
		return err == nil && len(failed) == 1
	})

	stored, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, stored.FailedReason, "invalid job payload")
	assert.Zero(t, adapter.callCount())
}

func TestWorkerUnknownChannelFailsAndTracks(t *testing.T) {
	client, _ := setupStore(t)
	startWorker(t, client, Config{Registry: channel.NewRegistry(nil)})

	j := emailJob([]string{"a@x"})
	payload, err := j.Encode()
	require.NoError(t, err)
	q := queue.New(client, "notify", nil)
	_, err = q.Add(context.Background(), "send", payload, queue.AddOptions{Attempts: 1})
	require.NoError(t, err)

	waitFor(t, 3*time.Second, func() bool {
		failed, err := q.FailedJobIDs(context.Background())
		return err == nil && len(failed) == 1
	})

	stored := stats.Get(context.Background(), client, stats.DefaultTrackingKey, nil)
	require.Len(t, stored, 1)
	for name := range stored {
		assert.Contains(t, name, "error:")
		assert.Contains(t, name, "unknown channel")
	}
}

func TestWorkerJobTrackingKeyWins(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var completed atomic.Int64
	startWorker(t, client, Config{
		Registry:    registryWith(t, adapter),
		TrackingKey: "worker:default",
		Callbacks: Callbacks{
			OnComplete: func(*job.Job, map[string]int64, *zap.Logger) { completed.Add(1) },
		},
	})

	j := emailJob([]string{"a@x"})
	j.TrackingKey = "campaign:42:stats"
	enqueue(t, client, "notify", j, queue.AddOptions{})

	waitFor(t, 3*time.Second, func() bool { return completed.Load() == 1 })

	assert.Equal(t, int64(1),
		stats.Get(context.Background(), client, "campaign:42:stats", nil)[stats.CounterSuccess])
	assert.Empty(t, stats.Get(context.Background(), client, "worker:default", nil))
}

func TestWorkerResetStatsAfterCompletion(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var seen atomic.Int64
	startWorker(t, client, Config{
		Registry:                  registryWith(t, adapter),
		ResetStatsAfterCompletion: true,
		Callbacks: Callbacks{
			OnComplete: func(_ *job.Job, statsHash map[string]int64, _ *zap.Logger) {
				seen.Store(statsHash[stats.CounterSuccess])
			},
		},
	})

	enqueue(t, client, "notify", emailJob([]string{"a@x"}), queue.AddOptions{})

	waitFor(t, 3*time.Second, func() bool { return seen.Load() == 1 })

	waitFor(t, 3*time.Second, func() bool {
		return len(stats.Get(context.Background(), client, stats.DefaultTrackingKey, nil)) == 0
	})
}

func TestWorkerDrainedCallback(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var drained atomic.Int64
	startWorker(t, client, Config{
		Registry: registryWith(t, adapter),
		Callbacks: Callbacks{
			OnDrained: func(logger *zap.Logger) { drained.Add(1) },
		},
	})

	enqueue(t, client, "notify", emailJob([]string{"a@x"}), queue.AddOptions{})

	waitFor(t, 5*time.Second, func() bool { return drained.Load() == 1 })
}

func TestWorkerCallbackPanicIsContained(t *testing.T) {
	client, _ := setupStore(t)
	adapter := &fakeAdapter{}

	var completed atomic.Int64
	startWorker(t, client, Config{
		Registry: registryWith(t, adapter),
		Callbacks: Callbacks{
			OnStart: func(*job.Job, *zap.Logger) { panic("bad hook") },
			OnComplete: func(*job.Job, map[string]int64, *zap.Logger) {
				completed.Add(1)
			},
		},
	})

	enqueue(t, client, "notify", emailJob([]string{"a@x"}), queue.AddOptions{})
	enqueue(t, client, "notify", emailJob([]string{"b@x"}), queue.AddOptions{})

	waitFor(t, 3*time.Second, func() bool { return completed.Load() == 2 })
	assert.Equal(t, 2, adapter.callCount(), "worker survives panicking callbacks")
}
