package moduleruntime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrNoModule is returned when no registered module or peer forwarder
// claims a command name.
type ErrNoModule struct{ Name string }

func (e ErrNoModule) Error() string {
	return fmt.Sprintf("moduleruntime: no module claims command %q", e.Name)
}

// registration pairs a Module with its sorted prefix list, kept so the
// longest-prefix-first match described in spec.md §4.5 ("the first module
// whose prefix list matches") is deterministic even when two modules share
// a common short prefix.
type registration struct {
	module   Module
	prefixes []string
}

// Runtime dispatches commands to modules by prefix and forwards anything
// unclaimed to a peer language runtime, exactly once (never re-entering
// Dispatch), matching original_source's ai_provider.rs comment on avoiding
// recursive dispatch.
type Runtime struct {
	mu     sync.RWMutex
	regs   []registration
	byName map[string]*registration
	peer   PeerForwarder
	bus    *EventBus
	logger *slog.Logger
}

// New constructs an empty Runtime. peer may be nil, in which case unclaimed
// commands return ErrNoModule instead of being forwarded.
func New(peer PeerForwarder, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		byName: make(map[string]*registration),
		peer:   peer,
		bus:    NewEventBus(),
		logger: logger.With("component", "moduleruntime"),
	}
}

// EventBus returns the runtime's shared publish/subscribe bus, so modules
// constructed outside the runtime can still reach it at wiring time.
func (r *Runtime) EventBus() *EventBus {
	return r.bus
}

// Register adds a module, calls Initialize, and subscribes it to its
// declared event topics. Longer prefixes are matched before shorter ones so
// a module claiming "ai/chat" is preferred over one claiming "ai/" for the
// same command name.
func (r *Runtime) Register(ctx context.Context, m Module) error {
	if m == nil {
		return fmt.Errorf("moduleruntime: module is nil")
	}
	name := m.Name()
	if name == "" {
		return fmt.Errorf("moduleruntime: module name is required")
	}

	r.mu.Lock()
	if _, exists := r.byName[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("moduleruntime: module %q already registered", name)
	}
	reg := &registration{module: m, prefixes: append([]string(nil), m.CommandPrefixes()...)}
	r.byName[name] = reg
	r.regs = append(r.regs, *reg)
	sort.Slice(r.regs, func(i, j int) bool {
		return longestPrefix(r.regs[i].prefixes) > longestPrefix(r.regs[j].prefixes)
	})
	r.mu.Unlock()

	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("moduleruntime: initialize %q: %w", name, err)
	}
	for _, topic := range m.EventSubscriptions() {
		r.bus.Subscribe(topic, func(ev Event) {
			r.logger.Debug("event delivered", "module", name, "topic", ev.Topic)
		})
	}

	r.logger.Debug("registered module", "name", name, "priority", m.Priority().String(), "prefixes", reg.prefixes)
	return nil
}

func longestPrefix(prefixes []string) int {
	max := 0
	for _, p := range prefixes {
		if len(p) > max {
			max = len(p)
		}
	}
	return max
}

// Unregister removes a module, calling Shutdown on it first.
func (r *Runtime) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	reg, exists := r.byName[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("moduleruntime: module %q not registered", name)
	}
	delete(r.byName, name)
	for i, rr := range r.regs {
		if rr.module.Name() == name {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return reg.module.Shutdown(ctx)
}

// Dispatch routes (name, params) to the first module whose prefix list
// matches. If no module matches and a peer forwarder is configured, the
// command is forwarded verbatim exactly once; Dispatch never re-enters
// itself for a forwarded command.
func (r *Runtime) Dispatch(ctx context.Context, name string, params map[string]any) (CommandResult, error) {
	r.mu.RLock()
	var matched Module
	for _, reg := range r.regs {
		for _, prefix := range reg.prefixes {
			if strings.HasPrefix(name, prefix) {
				matched = reg.module
				break
			}
		}
		if matched != nil {
			break
		}
	}
	r.mu.RUnlock()

	if matched != nil {
		return matched.HandleCommand(ctx, name, params)
	}

	if r.peer != nil {
		return r.peer.Forward(ctx, name, params)
	}

	return CommandResult{}, ErrNoModule{Name: name}
}

// TickAll invokes Tick on every registered module that implements Ticker,
// in registration order. Errors are logged, not propagated, so one
// misbehaving module cannot stall the others within the same tick.
func (r *Runtime) TickAll(ctx context.Context) {
	r.mu.RLock()
	regs := append([]registration(nil), r.regs...)
	r.mu.RUnlock()

	for _, reg := range regs {
		ticker, ok := reg.module.(Ticker)
		if !ok {
			continue
		}
		if err := ticker.Tick(ctx); err != nil {
			r.logger.Error("module tick failed", "module", reg.module.Name(), "error", err)
		}
	}
}

// Shutdown calls Shutdown on every registered module, continuing past
// individual failures and returning the first error encountered (if any).
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	regs := append([]registration(nil), r.regs...)
	r.mu.RUnlock()

	var firstErr error
	for _, reg := range regs {
		if err := reg.module.Shutdown(ctx); err != nil {
			r.logger.Error("module shutdown failed", "module", reg.module.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CommandSchemas collects CommandSchemas from every registered module that
// implements SchemaProvider, for tool discovery.
func (r *Runtime) CommandSchemas() []CommandSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CommandSchema
	for _, reg := range r.regs {
		if provider, ok := reg.module.(SchemaProvider); ok {
			out = append(out, provider.CommandSchemas()...)
		}
	}
	return out
}
