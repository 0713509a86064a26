package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cambriantech/continuum-core/internal/storage"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	id, err := s.Create(ctx, dbPath, "memories", "", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	got, err := s.Read(ctx, dbPath, "memories", id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got["text"] != "hello" {
		t.Errorf("text = %v", got["text"])
	}
}

func TestCreateWithExplicitID(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	id, err := s.Create(ctx, dbPath, "memories", "m1", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "m1" {
		t.Errorf("id = %q, want m1", id)
	}
}

func TestReadMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	if err := s.EnsureSchema(ctx, dbPath, "memories", nil); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	_, err := s.Read(ctx, dbPath, "memories", "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	id, _ := s.Create(ctx, dbPath, "memories", "", map[string]any{"text": "v1"})

	if err := s.Update(ctx, dbPath, "memories", id, map[string]any{"text": "v2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Read(ctx, dbPath, "memories", id)
	if got["text"] != "v2" {
		t.Errorf("text = %v, want v2", got["text"])
	}

	if err := s.Delete(ctx, dbPath, "memories", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(ctx, dbPath, "memories", id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	if err := s.EnsureSchema(ctx, dbPath, "memories", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, dbPath, "memories", "nope", map[string]any{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	s.Create(ctx, dbPath, "memories", "", map[string]any{"domain": "task", "importance": 0.5})
	s.Create(ctx, dbPath, "memories", "", map[string]any{"domain": "task", "importance": 0.9})
	s.Create(ctx, dbPath, "memories", "", map[string]any{"domain": "creative", "importance": 0.1})

	rows, err := s.Query(ctx, dbPath, "memories", storage.Query{
		Filter: map[string]any{"domain": "task"},
		Sort:   []storage.SortField{{Field: "importance", Desc: true}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Data["importance"] != 0.9 {
		t.Errorf("rows[0].importance = %v, want 0.9 (descending)", rows[0].Data["importance"])
	}
}

func TestQueryLimitOffset(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	for i := 0; i < 5; i++ {
		s.Create(ctx, dbPath, "items", "", map[string]any{"n": i})
	}

	rows, err := s.Query(ctx, dbPath, "items", storage.Query{Limit: 2, Offset: 2, Sort: []storage.SortField{{Field: "n"}}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Data["n"] != float64(2) {
		t.Errorf("rows[0].n = %v, want 2", rows[0].Data["n"])
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	s.Create(ctx, dbPath, "items", "", map[string]any{"kind": "a"})
	s.Create(ctx, dbPath, "items", "", map[string]any{"kind": "a"})
	s.Create(ctx, dbPath, "items", "", map[string]any{"kind": "b"})

	n, err := s.Count(ctx, dbPath, "items", map[string]any{"kind": "a"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestBatchAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	id, _ := s.Create(ctx, dbPath, "items", "", map[string]any{"n": 1})

	err := s.Batch(ctx, dbPath, []storage.Operation{
		{Kind: storage.OpCreate, Collection: "items", ID: "new1", Data: map[string]any{"n": 2}},
		{Kind: storage.OpUpdate, Collection: "items", ID: id, Data: map[string]any{"n": 99}},
		{Kind: storage.OpDelete, Collection: "items", ID: id},
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	if _, err := s.Read(ctx, dbPath, "items", id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected deleted record to be gone, got %v", err)
	}
	got, err := s.Read(ctx, dbPath, "items", "new1")
	if err != nil {
		t.Fatalf("Read new1: %v", err)
	}
	if got["n"] != float64(2) {
		t.Errorf("new1.n = %v, want 2", got["n"])
	}
}

func TestListCollections(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	s.Create(ctx, dbPath, "memories", "", map[string]any{})
	s.Create(ctx, dbPath, "events", "", map[string]any{})

	cols, err := s.ListCollections(ctx, dbPath)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	found := map[string]bool{}
	for _, c := range cols {
		found[c] = true
	}
	if !found["memories"] || !found["events"] {
		t.Errorf("collections = %v, want memories and events", cols)
	}
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	s.Create(ctx, dbPath, "items", "", map[string]any{"n": 1})
	s.Create(ctx, dbPath, "items", "", map[string]any{"n": 2})

	if err := s.Truncate(ctx, dbPath, "items"); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	n, _ := s.Count(ctx, dbPath, "items", nil)
	if n != 0 {
		t.Errorf("Count after truncate = %d, want 0", n)
	}
}

func TestQueryRejectsJoins(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	dbPath := testDBPath(t)

	_, err := s.Query(ctx, dbPath, "items", storage.Query{Joins: []storage.Join{{Collection: "other"}}})
	if err == nil {
		t.Error("expected an error for unsupported joins")
	}
}
