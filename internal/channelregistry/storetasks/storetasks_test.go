package storetasks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cambriantech/continuum-core/internal/channelregistry/selftask"
	"github.com/cambriantech/continuum-core/internal/storage/sqlitestore"
)

func TestPendingTasksFiltersByPersonaAndStatus(t *testing.T) {
	ctx := context.Background()
	backing := sqlitestore.New()
	defer backing.Close()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s := New(backing, dbPath)

	backing.Create(ctx, dbPath, tasksCollection, "", map[string]any{
		"persona_id": "p1", "status": statusPending, "domain": "task",
	})
	backing.Create(ctx, dbPath, tasksCollection, "", map[string]any{
		"persona_id": "p1", "status": statusInProgress, "domain": "task",
	})
	backing.Create(ctx, dbPath, tasksCollection, "", map[string]any{
		"persona_id": "p2", "status": statusPending, "domain": "task",
	})

	pending, err := s.PendingTasks(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("PendingTasks: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
}

func TestPersistSelfTaskThenActiveTasks(t *testing.T) {
	ctx := context.Background()
	backing := sqlitestore.New()
	defer backing.Close()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s := New(backing, dbPath)

	id, err := s.PersistSelfTask(ctx, "p1", selftask.Generated{
		Type: "resume-work", Description: "resume it", Priority: 0.7,
	})
	if err != nil {
		t.Fatalf("PersistSelfTask: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	// Freshly persisted tasks are pending, not active (in_progress/failed).
	active, err := s.ActiveTasks(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("len(active) = %d, want 0 for a newly pending task", len(active))
	}
}

func TestUnconsumedTrainingExamples(t *testing.T) {
	ctx := context.Background()
	backing := sqlitestore.New()
	defer backing.Close()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s := New(backing, dbPath)

	backing.Create(ctx, dbPath, trainingCollection, "", map[string]any{"persona_id": "p1", "consumed": false})
	backing.Create(ctx, dbPath, trainingCollection, "", map[string]any{"persona_id": "p1", "consumed": false})
	backing.Create(ctx, dbPath, trainingCollection, "", map[string]any{"persona_id": "p1", "consumed": true})

	n, err := s.UnconsumedTrainingExamples(ctx, "p1")
	if err != nil {
		t.Fatalf("UnconsumedTrainingExamples: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}
