package queue

import (
	"strconv"
	"time"
)

// Job is the queue-level view of one unit of work: the opaque payload plus
// the retry bookkeeping the queue maintains across attempts.
type Job struct {
	ID           string
	Name         string
	Data         []byte
	State        string
	Attempts     int
	AttemptsMade int
	Backoff      Backoff
	// FailedReason holds the error message of the most recent failed attempt.
	FailedReason string
	// Timestamp is when the job was enqueued.
	Timestamp time.Time

	removeOnComplete bool
	removeOnFail     bool
}

// RetriesExhausted reports whether another failure would be final.
func (j *Job) RetriesExhausted() bool {
	return j.AttemptsMade >= j.Attempts
}

// RetryDelay computes the backoff before the next attempt, based on how many
// attempts have already run.
func (j *Job) RetryDelay() time.Duration {
	if j.Backoff.Type == BackoffFixed {
		return j.Backoff.Delay
	}
	d := j.Backoff.Delay
	for i := 1; i < j.AttemptsMade; i++ {
		d *= 2
	}
	return d
}

func jobFromHash(id string, raw map[string]string) *Job {
	j := &Job{
		ID:           id,
		Name:         raw["name"],
		Data:         []byte(raw["data"]),
		State:        raw["state"],
		FailedReason: raw["failedReason"],
	}
	j.Attempts, _ = strconv.Atoi(raw["attempts"])
	j.AttemptsMade, _ = strconv.Atoi(raw["attemptsMade"])
	j.Backoff.Type = raw["backoffType"]
	if ms, err := strconv.ParseInt(raw["backoffDelayMs"], 10, 64); err == nil {
		j.Backoff.Delay = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(raw["timestamp"], 10, 64); err == nil {
		j.Timestamp = time.UnixMilli(ms)
	}
	j.removeOnComplete = raw["removeOnComplete"] == "1"
	j.removeOnFail = raw["removeOnFail"] == "1"
	return j
}
