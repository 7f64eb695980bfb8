// Package fanout holds the error taxonomy shared by the dispatch pipeline.
//
// The engine itself lives in the subpackages: dispatch (producer), queue
// (durable Redis job queue), worker (consumer runtime), channel (adapters
// and batch sender), ratelimit, stats, and store.
package fanout

import "errors"

// ErrConfig marks bad construction-time input: a missing bot token, absent
// VAPID keys, a non-positive rate. It is fatal and never retried.
var ErrConfig = errors.New("invalid configuration")

// ErrCancelled marks cooperative cancellation: work that was accepted but
// shut down before it could start.
var ErrCancelled = errors.New("cancelled")
