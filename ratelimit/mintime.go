package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MinTime runs submitted tasks with a minimum spacing between starts and a
// cap on how many run at once. Channel adapters use it to pace outbound
// transport calls. Submission order is preserved: tasks start in FIFO order
// even though they may finish out of order.
type MinTime struct {
	minGap time.Duration
	slots  chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*minTimeTask
	closed  bool

	closing chan struct{} // signals the dispatcher out of waits
	done    chan struct{} // dispatcher exit
	wg      sync.WaitGroup
}

type minTimeTask struct {
	ctx      context.Context
	fn       func()
	finished chan struct{}
	err      error
}

// NewMinTime builds a scheduler allowing maxRequests task starts per period,
// with at most maxConcurrent tasks running at any instant. The gap between
// consecutive starts is period/maxRequests.
func NewMinTime(maxConcurrent, maxRequests int, period time.Duration) *MinTime {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxRequests <= 0 {
		maxRequests = 1
	}
	m := &MinTime{
		minGap:  period / time.Duration(maxRequests),
		slots:   make(chan struct{}, maxConcurrent),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.dispatch()
	return m
}

// Schedule queues fn and blocks until it has run to completion. It returns
// ErrSchedulerClosed if the scheduler shuts down before fn starts, or
// ctx.Err() if the context expires first.
func (m *MinTime) Schedule(ctx context.Context, fn func()) error {
	t := &minTimeTask{ctx: ctx, fn: fn, finished: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSchedulerClosed
	}
	m.pending = append(m.pending, t)
	m.cond.Signal()
	m.mu.Unlock()

	<-t.finished
	return t.err
}

// Close stops the scheduler. Tasks already running drain to completion;
// tasks not yet started are failed with ErrSchedulerClosed. Close blocks
// until the drain finishes.
func (m *MinTime) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.closing)
		m.cond.Signal()
	}
	m.mu.Unlock()

	<-m.done
	m.wg.Wait()
}

func (m *MinTime) dispatch() {
	defer close(m.done)

	var lastStart time.Time
	for {
		m.mu.Lock()
		for len(m.pending) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.failPendingLocked()
			m.mu.Unlock()
			return
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		if !m.start(t, &lastStart) {
			// Shutdown raced the task: fail it and whatever is left.
			t.err = ErrSchedulerClosed
			close(t.finished)
			m.mu.Lock()
			m.failPendingLocked()
			m.mu.Unlock()
			return
		}
	}
}

// start waits out the min-time gap and a concurrency slot, then launches t.
// It returns false when the scheduler closed before t could start.
func (m *MinTime) start(t *minTimeTask, lastStart *time.Time) bool {
	if t.ctx != nil && t.ctx.Err() != nil {
		t.err = t.ctx.Err()
		close(t.finished)
		return true
	}

	if wait := m.minGap - time.Since(*lastStart); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-m.closing:
			timer.Stop()
			return false
		}
	}

	select {
	case m.slots <- struct{}{}:
	case <-m.closing:
		return false
	}
	*lastStart = time.Now()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.slots }()
		defer close(t.finished)
		t.fn()
	}()
	return true
}

// failPendingLocked fails every queued task. Caller holds m.mu.
func (m *MinTime) failPendingLocked() {
	for _, t := range m.pending {
		t.err = ErrSchedulerClosed
		close(t.finished)
	}
	m.pending = nil
}
