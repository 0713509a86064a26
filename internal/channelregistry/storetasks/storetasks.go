// Package storetasks implements channelregistry.TaskStore against a
// storage.Store, so the scheduler can run against the sqlite/postgres
// storage adapter instead of a hand-rolled in-memory double outside of
// tests.
package storetasks

import (
	"context"
	"fmt"
	"time"

	"github.com/cambriantech/continuum-core/internal/channelregistry/selftask"
	"github.com/cambriantech/continuum-core/internal/corerr"
	"github.com/cambriantech/continuum-core/internal/storage"
)

const (
	tasksCollection    = "self_tasks"
	trainingCollection = "training_examples"
	statusPending      = "pending"
	statusInProgress   = "in_progress"
	statusFailed       = "failed"
)

// Store adapts a storage.Store + db_path into channelregistry.TaskStore.
type Store struct {
	store  storage.Store
	dbPath string
}

// New returns a Store scoped to dbPath.
func New(store storage.Store, dbPath string) *Store {
	return &Store{store: store, dbPath: dbPath}
}

func (s *Store) PendingTasks(ctx context.Context, personaID string, limit int) ([]selftask.TaskRecord, error) {
	rows, err := s.store.Query(ctx, s.dbPath, tasksCollection, storage.Query{
		Filter: map[string]any{"persona_id": personaID, "status": statusPending},
		Sort:   []storage.SortField{{Field: "updated_at"}},
		Limit:  limit,
	})
	if err != nil {
		return nil, corerr.Storage("storetasks.PendingTasks", err)
	}
	return toTaskRecords(rows), nil
}

func (s *Store) ActiveTasks(ctx context.Context, personaID string) ([]selftask.TaskRecord, error) {
	var out []selftask.TaskRecord
	for _, status := range []string{statusInProgress, statusFailed} {
		rows, err := s.store.Query(ctx, s.dbPath, tasksCollection, storage.Query{
			Filter: map[string]any{"persona_id": personaID, "status": status},
		})
		if err != nil {
			return nil, corerr.Storage("storetasks.ActiveTasks", err)
		}
		out = append(out, toTaskRecords(rows)...)
	}
	return out, nil
}

func (s *Store) PersistSelfTask(ctx context.Context, personaID string, g selftask.Generated) (string, error) {
	data := map[string]any{
		"persona_id":  personaID,
		"type":        g.Type,
		"description": g.Description,
		"priority":    g.Priority,
		"status":      statusPending,
		"metadata":    g.Metadata,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	id, err := s.store.Create(ctx, s.dbPath, tasksCollection, "", data)
	if err != nil {
		return "", corerr.Storage("storetasks.PersistSelfTask", err)
	}
	return id, nil
}

func (s *Store) UnconsumedTrainingExamples(ctx context.Context, personaID string) (int, error) {
	n, err := s.store.Count(ctx, s.dbPath, trainingCollection, map[string]any{
		"persona_id": personaID,
		"consumed":   false,
	})
	if err != nil {
		return 0, corerr.Storage("storetasks.UnconsumedTrainingExamples", err)
	}
	return int(n), nil
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toTaskRecords(rows []storage.Record) []selftask.TaskRecord {
	out := make([]selftask.TaskRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, selftask.TaskRecord{
			ID:        row.ID,
			Domain:    fmt.Sprintf("%v", row.Data["domain"]),
			Status:    fmt.Sprintf("%v", row.Data["status"]),
			UpdatedAt: parseTime(row.Data["updated_at"]),
		})
	}
	return out
}
