package queue

import "time"

// Job states as stored in the job hash.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Backoff strategies for retried jobs.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Backoff controls the delay before a failed attempt is retried.
type Backoff struct {
	// Type is BackoffExponential or BackoffFixed.
	Type string
	// Delay is the base delay; exponential doubles it per prior attempt.
	Delay time.Duration
}

// AddOptions configure a single enqueued job. The zero value gets sensible
// defaults from applyDefaults; Remove* fields are tri-state so a caller's
// explicit false survives merging with defaults.
type AddOptions struct {
	// Delay postpones the job's first execution.
	Delay time.Duration
	// Attempts is the total number of tries including the first. Minimum 1.
	Attempts int
	// Backoff applies between failed attempts.
	Backoff Backoff
	// RemoveOnComplete deletes the job hash after success. Default true.
	RemoveOnComplete bool
	// RemoveOnFail deletes the job hash after the final failed attempt.
	// Default false: failed jobs are retained for inspection.
	RemoveOnFail bool

	removeOnCompleteSet bool
	removeOnFailSet     bool
}

// SetRemoveOnComplete records an explicit choice, overriding the default.
func (o *AddOptions) SetRemoveOnComplete(v bool) {
	o.RemoveOnComplete = v
	o.removeOnCompleteSet = true
}

// SetRemoveOnFail records an explicit choice, overriding the default.
func (o *AddOptions) SetRemoveOnFail(v bool) {
	o.RemoveOnFail = v
	o.removeOnFailSet = true
}

func (o *AddOptions) applyDefaults() {
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = time.Second
	}
	if !o.removeOnCompleteSet {
		o.RemoveOnComplete = true
	}
	if !o.removeOnFailSet {
		o.RemoveOnFail = false
	}
}
