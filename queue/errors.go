package queue

import "errors"

var (
	// ErrJobNotFound is returned when a job hash no longer exists.
	ErrJobNotFound = errors.New("job not found")
	// ErrConsumerClosed is returned by operations on a closed consumer.
	ErrConsumerClosed = errors.New("consumer closed")
	// ErrLockLost means the processing lock expired and the job was
	// reclaimed by the stalled scan; its outcome must not be recorded twice.
	ErrLockLost = errors.New("processing lock lost")
)
