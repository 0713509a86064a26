package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrNoProvidersConfigured is surfaced to the caller of select() when the
// available set is empty.
var ErrNoProvidersConfigured = fmt.Errorf("no providers configured")

type registryEntry struct {
	adapter  Adapter
	priority int
}

// Registry is the global, priority-ordered adapter registry described in
// the provider adapter & registry design: register() then initialize_all()
// builds the available set, and select() resolves a request to one adapter.
//
// The registry is a process-wide singleton (see Global below) so that module
// restarts do not re-initialize network adapters; re-initialization is
// guarded by initialized, an atomic bool rather than the mutex, so a racing
// caller can cheaply check it without blocking on registration traffic.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*registryEntry
	available   map[string]struct{}
	initialized atomic.Bool
	logger      *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:   make(map[string]*registryEntry),
		available: make(map[string]struct{}),
		logger:    logger.With("component", "provider_registry"),
	}
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// Global returns the process-wide Registry singleton, creating it on first use.
func Global() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry(nil)
	})
	return globalRegistry
}

// Register adds (or replaces) an adapter at the given priority. Lower
// priority integers are preferred by select()'s fallback rule.
func (r *Registry) Register(adapter Adapter, priority int) {
	if adapter == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[adapter.ID()] = &registryEntry{adapter: adapter, priority: priority}
}

// InitializeAll calls Initialize on every registered adapter, dropping those
// that return an error from the available set. Safe to call more than once;
// concurrent callers after the first will observe Initialized() == true and
// may skip the call entirely.
func (r *Registry) InitializeAll(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	available := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if err := e.adapter.Initialize(ctx); err != nil {
			r.logger.Warn("adapter initialization failed, dropping from available set",
				"provider", e.adapter.ID(), "error", err)
			continue
		}
		available[e.adapter.ID()] = struct{}{}
	}

	r.mu.Lock()
	r.available = available
	r.mu.Unlock()
	r.initialized.Store(true)
}

// Initialized reports whether InitializeAll has run at least once.
func (r *Registry) Initialized() bool {
	return r.initialized.Load()
}

// Get returns a registered adapter by id regardless of availability.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// Available returns the ids of initialized, available adapters ordered by
// ascending priority (highest priority first).
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.available))
	for id := range r.available {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.entries[ids[i]].priority < r.entries[ids[j]].priority
	})
	return ids
}

// Select resolves a request to one adapter using the registry's routing
// rules, in order: exact provider id match, then preferred-model prefix
// match (ties broken by priority), then lowest-priority available adapter.
func (r *Registry) Select(preferredProvider, preferredModel string) (string, Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferredProvider != "" {
		if e, ok := r.entries[preferredProvider]; ok {
			if _, avail := r.available[preferredProvider]; avail {
				return preferredProvider, e.adapter, nil
			}
		}
	}

	if preferredModel != "" {
		var bestID string
		var best *registryEntry
		for id := range r.available {
			e := r.entries[id]
			for _, prefix := range e.adapter.SupportedModelPrefixes() {
				if prefix != "" && strings.HasPrefix(preferredModel, prefix) {
					if best == nil || e.priority < best.priority {
						best, bestID = e, id
					}
					break
				}
			}
		}
		if best != nil {
			return bestID, best.adapter, nil
		}
	}

	var bestID string
	var best *registryEntry
	for id := range r.available {
		e := r.entries[id]
		if best == nil || e.priority < best.priority {
			best, bestID = e, id
		}
	}
	if best == nil {
		return "", nil, ErrNoProvidersConfigured
	}
	return bestID, best.adapter, nil
}
