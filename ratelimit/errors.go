package ratelimit

import (
	"fmt"

	"github.com/ignite/fanout"
)

// ErrSchedulerClosed is returned for tasks that were queued on a MinTime
// scheduler but never started before Close.
var ErrSchedulerClosed = fmt.Errorf("%w: scheduler closed", fanout.ErrCancelled)
