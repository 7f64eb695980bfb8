// Package store resolves the shared Redis handle used by producers and
// workers, and owns the campaign cancellation flag keys.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/fanout"
)

// resolveMaxRetries is the per-command retry budget for connections the
// engine opens itself.
const resolveMaxRetries = 10

// Options describes a connection the engine should open itself.
type Options struct {
	// URL takes precedence when set, e.g. redis://localhost:6379/0.
	URL      string
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Handle wraps a Redis client together with its ownership. Close is a no-op
// for handles resolved from a caller-supplied client; the caller keeps the
// responsibility of closing what it opened.
type Handle struct {
	Client *redis.Client
	owned  bool
}

// Resolve returns a handle for either an externally owned client or freshly
// opened connection parameters. Exactly one of existing/opts must be given.
// Connections the engine opens are pinged before use and carry a generous
// per-command retry budget; a consumer maintenance cycle must survive a
// brief store hiccup rather than abandon the request.
func Resolve(ctx context.Context, existing *redis.Client, opts *Options) (*Handle, error) {
	if existing != nil {
		return &Handle{Client: existing, owned: false}, nil
	}
	if opts == nil {
		return nil, fmt.Errorf("%w: store connection required (client or options)", fanout.ErrConfig)
	}

	var ro *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: parse redis URL: %v", fanout.ErrConfig, err)
		}
		ro = parsed
	} else {
		if opts.Addr == "" {
			return nil, fmt.Errorf("%w: store address required", fanout.ErrConfig)
		}
		ro = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	// In go-redis a negative MaxRetries disables retrying entirely.
	ro.MaxRetries = resolveMaxRetries

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Handle{Client: client, owned: true}, nil
}

// Owned reports whether Close would actually close the connection.
func (h *Handle) Owned() bool { return h.owned }

// Close closes the connection iff this handle opened it.
func (h *Handle) Close() error {
	if h == nil || !h.owned || h.Client == nil {
		return nil
	}
	return h.Client.Close()
}
