package moduleruntime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubModule struct {
	name        string
	prefixes    []string
	handled     []string
	handleErr   error
	initialized bool
	shutdown    bool
	tickCount   int
}

func (m *stubModule) Name() string                   { return m.name }
func (m *stubModule) Priority() PriorityClass         { return PriorityNormal }
func (m *stubModule) CommandPrefixes() []string       { return m.prefixes }
func (m *stubModule) EventSubscriptions() []string    { return nil }
func (m *stubModule) NeedsDedicatedThread() bool      { return false }
func (m *stubModule) MaxConcurrency() int             { return 0 }
func (m *stubModule) TickInterval() int64             { return 0 }
func (m *stubModule) Initialize(ctx context.Context) error {
	m.initialized = true
	return nil
}
func (m *stubModule) HandleCommand(ctx context.Context, name string, params map[string]any) (CommandResult, error) {
	m.handled = append(m.handled, name)
	if m.handleErr != nil {
		return CommandResult{}, m.handleErr
	}
	return CommandResult{Data: map[string]any{"ok": true}}, nil
}
func (m *stubModule) Shutdown(ctx context.Context) error {
	m.shutdown = true
	return nil
}

type tickingModule struct {
	stubModule
	mu   sync.Mutex
	ticks int
}

func (m *tickingModule) Tick(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	return nil
}

type stubPeer struct {
	forwarded []string
}

func (p *stubPeer) Forward(ctx context.Context, name string, params map[string]any) (CommandResult, error) {
	p.forwarded = append(p.forwarded, name)
	return CommandResult{Data: "peer-handled"}, nil
}

func TestDispatchRoutesByPrefix(t *testing.T) {
	rt := New(nil, nil)
	ai := &stubModule{name: "ai", prefixes: []string{"ai/"}}
	data := &stubModule{name: "data", prefixes: []string{"data/"}}

	if err := rt.Register(context.Background(), ai); err != nil {
		t.Fatal(err)
	}
	if err := rt.Register(context.Background(), data); err != nil {
		t.Fatal(err)
	}

	if _, err := rt.Dispatch(context.Background(), "ai/chat", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Dispatch(context.Background(), "data/query", nil); err != nil {
		t.Fatal(err)
	}

	if len(ai.handled) != 1 || ai.handled[0] != "ai/chat" {
		t.Errorf("ai module handled = %v", ai.handled)
	}
	if len(data.handled) != 1 || data.handled[0] != "data/query" {
		t.Errorf("data module handled = %v", data.handled)
	}
}

func TestDispatchPrefersLongestPrefix(t *testing.T) {
	rt := New(nil, nil)
	general := &stubModule{name: "general", prefixes: []string{"ai/"}}
	chat := &stubModule{name: "chat", prefixes: []string{"ai/chat"}}

	if err := rt.Register(context.Background(), general); err != nil {
		t.Fatal(err)
	}
	if err := rt.Register(context.Background(), chat); err != nil {
		t.Fatal(err)
	}

	if _, err := rt.Dispatch(context.Background(), "ai/chat/send", nil); err != nil {
		t.Fatal(err)
	}

	if len(chat.handled) != 1 {
		t.Errorf("expected the longer-prefix module to claim the command, got general=%v chat=%v", general.handled, chat.handled)
	}
	if len(general.handled) != 0 {
		t.Error("expected the shorter-prefix module not to claim the command")
	}
}

func TestDispatchForwardsUnclaimedToPeer(t *testing.T) {
	peer := &stubPeer{}
	rt := New(peer, nil)
	ai := &stubModule{name: "ai", prefixes: []string{"ai/"}}
	if err := rt.Register(context.Background(), ai); err != nil {
		t.Fatal(err)
	}

	result, err := rt.Dispatch(context.Background(), "voice/synthesize", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Data != "peer-handled" {
		t.Errorf("Data = %v, want peer-handled", result.Data)
	}
	if len(peer.forwarded) != 1 || peer.forwarded[0] != "voice/synthesize" {
		t.Errorf("forwarded = %v", peer.forwarded)
	}
	if len(ai.handled) != 0 {
		t.Error("unclaimed command should not reach an unrelated module")
	}
}

func TestDispatchNoModuleNoPeerReturnsErrNoModule(t *testing.T) {
	rt := New(nil, nil)
	_, err := rt.Dispatch(context.Background(), "unknown/thing", nil)
	var target ErrNoModule
	if !errors.As(err, &target) {
		t.Fatalf("expected ErrNoModule, got %v", err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	rt := New(nil, nil)
	m := &stubModule{name: "ai", prefixes: []string{"ai/"}}
	if err := rt.Register(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := rt.Register(context.Background(), &stubModule{name: "ai", prefixes: []string{"ai/"}}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestUnregisterCallsShutdown(t *testing.T) {
	rt := New(nil, nil)
	m := &stubModule{name: "ai", prefixes: []string{"ai/"}}
	if err := rt.Register(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := rt.Unregister(context.Background(), "ai"); err != nil {
		t.Fatal(err)
	}
	if !m.shutdown {
		t.Error("expected Shutdown to be called")
	}
	if _, err := rt.Dispatch(context.Background(), "ai/chat", nil); err == nil {
		t.Error("expected dispatch to an unregistered module to fail")
	}
}

func TestTickAllInvokesTickers(t *testing.T) {
	rt := New(nil, nil)
	ticking := &tickingModule{stubModule: stubModule{name: "ticker", prefixes: []string{"t/"}}}
	nonTicking := &stubModule{name: "plain", prefixes: []string{"p/"}}

	if err := rt.Register(context.Background(), ticking); err != nil {
		t.Fatal(err)
	}
	if err := rt.Register(context.Background(), nonTicking); err != nil {
		t.Fatal(err)
	}

	rt.TickAll(context.Background())

	ticking.mu.Lock()
	defer ticking.mu.Unlock()
	if ticking.ticks != 1 {
		t.Errorf("ticks = %d, want 1", ticking.ticks)
	}
}

func TestEventBusPublishDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)
	bus.Subscribe("persona.updated", func(ev Event) { received <- ev })

	bus.Publish("persona.updated", map[string]string{"id": "p1"})

	select {
	case ev := <-received:
		if ev.Topic != "persona.updated" {
			t.Errorf("Topic = %q, want persona.updated", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestEventBusPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	bus.Publish("nobody.listens", "data")
}
