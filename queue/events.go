package queue

import "context"

// Events receives consumer lifecycle notifications. Implementations must be
// safe for concurrent calls; they run on consumer goroutines, so slow
// handlers slow down processing.
type Events interface {
	// OnActive fires when a job is claimed, before the handler runs.
	OnActive(ctx context.Context, job *Job)
	// OnCompleted fires after a successful handler return.
	OnCompleted(ctx context.Context, job *Job)
	// OnFailed fires after a failed attempt, final or not.
	OnFailed(ctx context.Context, job *Job, err error)
	// OnDrained fires once when the consumer has seen work and the waiting
	// list subsequently comes up empty. It re-arms on the next claimed job.
	OnDrained(ctx context.Context)
}

// NoopEvents satisfies Events with empty handlers; embed it to implement a
// subset.
type NoopEvents struct{}

func (NoopEvents) OnActive(context.Context, *Job)        {}
func (NoopEvents) OnCompleted(context.Context, *Job)     {}
func (NoopEvents) OnFailed(context.Context, *Job, error) {}
func (NoopEvents) OnDrained(context.Context)             {}

var _ Events = NoopEvents{}
