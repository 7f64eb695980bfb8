// Package ratelimit provides the two pacing primitives of the dispatch
// pipeline: a token bucket for producer DB paging and a min-time scheduler
// for outbound channel calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/fanout"
)

// TokenBucket paces callers to ratePerSecond operations. Capacity equals the
// per-second rate and the bucket starts full, so a cold caller gets one
// second of burst.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	ratePerMs  float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket refilling at ratePerSecond tokens/second.
// Fractional rates are valid: 0.5 paces one operation every two seconds.
func NewTokenBucket(ratePerSecond float64) (*TokenBucket, error) {
	if ratePerSecond <= 0 {
		return nil, fmt.Errorf("%w: ratePerSecond must be > 0, got %g", fanout.ErrConfig, ratePerSecond)
	}
	return &TokenBucket{
		capacity:   ratePerSecond,
		tokens:     ratePerSecond,
		ratePerMs:  ratePerSecond / 1000.0,
		lastRefill: time.Now(),
	}, nil
}

// Acquire blocks until a token is available or ctx is done. The wait is not
// a busy spin: when empty it sleeps max(10ms, min(estimated/2, 50ms)) and
// re-checks, where estimated is the refill time for the missing fraction.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		needed := 1 - b.tokens
		b.mu.Unlock()

		estimated := time.Duration(needed/b.ratePerMs) * time.Millisecond
		sleep := estimated / 2
		if sleep > 50*time.Millisecond {
			sleep = 50 * time.Millisecond
		}
		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// refill adds tokens for the wall-clock delta since the last refill. A zero
// or negative delta is a no-op. Caller holds b.mu.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.capacity
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
