package channel

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ignite/fanout/job"
)

// Adapter translates one job's recipients and metadata into transport calls
// and index-aligned results. Implementations never return an error from
// Send; every per-recipient failure becomes a Result.
type Adapter interface {
	Name() string
	Send(ctx context.Context, recipients []string, metas []job.Meta, logger *zap.Logger) []Result
}

// ErrUnknownChannel is wrapped by Registry.Get for unregistered names.
var ErrUnknownChannel = fmt.Errorf("unknown channel")

// Registry maps channel names to adapter instances within one worker
// process. Mutation is expected only at startup; it is not safe for
// concurrent writes.
type Registry struct {
	adapters map[string]Adapter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger.With(zap.String("component", "channel-registry")),
	}
}

// Register installs an adapter under name, replacing (and warning about) any
// previous registration.
func (r *Registry) Register(name string, adapter Adapter) {
	if _, exists := r.adapters[name]; exists {
		r.logger.Warn("overwriting registered channel", zap.String("channel", name))
	}
	r.adapters[name] = adapter
}

// Get resolves a channel name to its adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return adapter, nil
}

// Unregister removes a channel; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	delete(r.adapters, name)
}

// List returns the registered channel names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registration. Intended for tests.
func (r *Registry) Clear() {
	r.adapters = make(map[string]Adapter)
}
