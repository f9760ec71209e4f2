package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trunkline/trunkline/internal/summary"
)

// ErrBackendNotRegistered is returned by [Registry.CreateSummaryStore] when
// no factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: summary backend not registered")

// SummaryStoreFactory constructs a summary store from its configuration
// block.
type SummaryStoreFactory func(ctx context.Context, cfg SummaryConfig) (summary.Store, error)

// Registry maps summary backend names to their constructor functions. The
// concrete store implementations register themselves at startup, keeping this
// package free of driver dependencies. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[SummaryBackend]SummaryStoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[SummaryBackend]SummaryStoreFactory),
	}
}

// RegisterSummaryStore registers a factory for the given backend, replacing
// any previous registration.
func (r *Registry) RegisterSummaryStore(backend SummaryBackend, factory SummaryStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// CreateSummaryStore builds the store selected by cfg.Backend. An empty
// backend resolves to [SummaryNone].
func (r *Registry) CreateSummaryStore(ctx context.Context, cfg SummaryConfig) (summary.Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = SummaryNone
	}

	r.mu.RLock()
	factory, ok := r.stores[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, backend)
	}
	return factory(ctx, cfg)
}
