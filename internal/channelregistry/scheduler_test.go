package channelregistry

import (
	"context"
	"testing"
	"time"

	"github.com/cambriantech/continuum-core/internal/channelregistry/selftask"
)

type mockStore struct {
	pending            []selftask.TaskRecord
	active             []selftask.TaskRecord
	persisted          []selftask.Generated
	unconsumedExamples int
}

func (f *mockStore) PendingTasks(ctx context.Context, personaID string, limit int) ([]selftask.TaskRecord, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *mockStore) ActiveTasks(ctx context.Context, personaID string) ([]selftask.TaskRecord, error) {
	return f.active, nil
}

func (f *mockStore) PersistSelfTask(ctx context.Context, personaID string, g selftask.Generated) (string, error) {
	f.persisted = append(f.persisted, g)
	return "self-" + g.Type, nil
}

func (f *mockStore) UnconsumedTrainingExamples(ctx context.Context, personaID string) (int, error) {
	return f.unconsumedExamples, nil
}

type mockGenome struct {
	triggered []string
}

func (g *mockGenome) TriggerTraining(ctx context.Context, personaID string) error {
	g.triggered = append(g.triggered, personaID)
	return nil
}

func TestTickEnqueuesPendingTasks(t *testing.T) {
	registry := New()
	store := &mockStore{pending: []selftask.TaskRecord{
		{ID: "t1", Domain: "coding", Status: "pending", UpdatedAt: time.Now()},
	}}
	genome := &mockGenome{}
	sched := NewScheduler(registry, store, genome, nil, nil)
	sched.Register("p1")

	sched.Tick(context.Background())

	status := registry.Status("p1")
	if status.Total == 0 {
		t.Fatal("expected the pending task to be enqueued")
	}
}

func TestTickGeneratesSelfTasks(t *testing.T) {
	registry := New()
	store := &mockStore{}
	genome := &mockGenome{}
	sched := NewScheduler(registry, store, genome, nil, nil)
	sched.Register("p1")

	sched.Tick(context.Background())

	if len(store.persisted) == 0 {
		t.Fatal("expected first tick to generate periodic self-tasks")
	}
	status := registry.Status("p1")
	if status.Depths[DomainSelf] == 0 {
		t.Error("expected self-tasks to land in the self domain")
	}
}

func TestTickTriggersTrainingAboveThreshold(t *testing.T) {
	registry := New()
	store := &mockStore{unconsumedExamples: 50}
	genome := &mockGenome{}
	sched := NewScheduler(registry, store, genome, nil, nil)
	sched.Register("p1")

	sched.Tick(context.Background())

	if len(genome.triggered) != 1 || genome.triggered[0] != "p1" {
		t.Errorf("expected training to be triggered for p1, got %+v", genome.triggered)
	}
}

func TestTickDoesNotTriggerTrainingBelowThreshold(t *testing.T) {
	registry := New()
	store := &mockStore{unconsumedExamples: 49}
	genome := &mockGenome{}
	sched := NewScheduler(registry, store, genome, nil, nil)
	sched.Register("p1")

	sched.Tick(context.Background())

	if len(genome.triggered) != 0 {
		t.Errorf("expected no training trigger below threshold, got %+v", genome.triggered)
	}
}

func TestTickProcessesOnlyRegisteredPersonas(t *testing.T) {
	registry := New()
	store := &mockStore{}
	sched := NewScheduler(registry, store, nil, nil, nil)

	sched.Tick(context.Background())

	if registry.Status("p1").Total != 0 {
		t.Error("expected no work for an unregistered persona")
	}
}
