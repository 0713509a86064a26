package memoryengine

import (
	"context"
	"testing"
	"time"
)

func testEngine() *Engine {
	return New(nil)
}

func makeRecord(id, content string, importance float64) MemoryRecord {
	return MemoryRecord{
		ID:         id,
		PersonaID:  "p1",
		MemoryType: "observation",
		Content:    content,
		Context:    map[string]any{},
		Timestamp:  time.Now(),
		Importance: importance,
	}
}

func TestLoadCorpus(t *testing.T) {
	e := testEngine()
	records := []MemoryRecord{
		makeRecord("m1", "purple elephants dance", 0.9),
		makeRecord("m2", "blue sky observation", 0.5),
	}
	stats, err := e.LoadCorpus(context.Background(), "p1", records, map[string][]float32{"m1": {0.1}}, nil, nil)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}
	if stats.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", stats.RecordCount)
	}
	if stats.EmbeddedCount != 1 {
		t.Errorf("EmbeddedCount = %d, want 1", stats.EmbeddedCount)
	}
}

func TestLoadCorpusReplacesPrevious(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", []MemoryRecord{makeRecord("m1", "first", 0.9)}, nil, nil, nil)
	stats, err := e.LoadCorpus(ctx, "p1", []MemoryRecord{
		makeRecord("m2", "second", 0.8),
		makeRecord("m3", "third", 0.7),
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}
	if stats.RecordCount != 2 {
		t.Fatalf("RecordCount = %d, want 2", stats.RecordCount)
	}
	corpus, err := e.GetCorpus("p1")
	if err != nil {
		t.Fatalf("GetCorpus: %v", err)
	}
	for _, r := range corpus.Records {
		if r.ID == "m1" {
			t.Error("old memory m1 should not survive a reload")
		}
	}
}

func TestAppendMemoryRequiresExistingCorpus(t *testing.T) {
	e := testEngine()
	err := e.AppendMemory(context.Background(), "nonexistent", makeRecord("m1", "orphan", 0.5), nil)
	if err == nil {
		t.Fatal("expected error appending to a persona with no loaded corpus")
	}
}

func TestAppendMemoryPreservesEarlierSnapshot(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", []MemoryRecord{makeRecord("m1", "initial", 0.9)}, nil, nil, nil)

	oldSnapshot, _ := e.GetCorpus("p1")

	if err := e.AppendMemory(ctx, "p1", makeRecord("m2", "appended", 0.7), nil); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}

	if len(oldSnapshot.Records) != 1 {
		t.Errorf("old snapshot mutated: len = %d, want 1 (snapshot isolation)", len(oldSnapshot.Records))
	}

	newSnapshot, _ := e.GetCorpus("p1")
	if len(newSnapshot.Records) != 2 {
		t.Errorf("new snapshot len = %d, want 2", len(newSnapshot.Records))
	}
}

func TestRecallOnMissingCorpusFails(t *testing.T) {
	e := testEngine()
	_, err := e.Recall(context.Background(), "nonexistent", RecallQuery{RoomID: "room-1", MaxResultsPerLayer: 5}, 10)
	if err == nil {
		t.Fatal("expected error recalling against an unloaded persona")
	}
}

func TestRecallFindsAppendedMemory(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", []MemoryRecord{makeRecord("m1", "initial memory", 0.9)}, nil, nil, nil)
	e.AppendMemory(ctx, "p1", makeRecord("m2", "appended memory", 0.7), nil)

	result, err := e.Recall(ctx, "p1", RecallQuery{RoomID: "room-1", MaxResultsPerLayer: 10}, 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	found := map[string]bool{}
	for _, m := range result.Memories {
		found[m.ID] = true
	}
	if !found["m1"] || !found["m2"] {
		t.Errorf("expected both m1 and m2 in recall results, got %v", result.Memories)
	}
}

func TestMaxResultsZeroReturnsEmpty(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", []MemoryRecord{makeRecord("m1", "anything", 0.9)}, nil, nil, nil)

	result, err := e.Recall(ctx, "p1", RecallQuery{RoomID: "room-1", MaxResultsPerLayer: 10}, 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(result.Memories) != 0 {
		t.Errorf("expected zero results when max_results=0, got %d", len(result.Memories))
	}
}

func TestConsciousnessContextCaching(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", nil, nil, []TimelineEvent{
		{ID: "e1", PersonaID: "p1", Timestamp: time.Now(), ContextID: "room-1", ContextName: "General", Importance: 0.6},
		{ID: "e2", PersonaID: "p1", Timestamp: time.Now(), ContextID: "room-2", ContextName: "Academy", Importance: 0.8},
	}, nil)

	req := ConsciousnessRequest{RoomID: "room-1"}
	first, err := e.ConsciousnessContext(ctx, "p1", req)
	if err != nil {
		t.Fatalf("ConsciousnessContext: %v", err)
	}
	second, err := e.ConsciousnessContext(ctx, "p1", req)
	if err != nil {
		t.Fatalf("ConsciousnessContext (cached): %v", err)
	}
	if first.CrossContextEventCount != second.CrossContextEventCount {
		t.Errorf("cached call returned a different result: %d vs %d", first.CrossContextEventCount, second.CrossContextEventCount)
	}
	if first.CrossContextEventCount < 1 {
		t.Error("expected at least one cross-context event (e2 is outside room-1)")
	}
}

func TestConsciousnessContextInvalidatedByAppend(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	e.LoadCorpus(ctx, "p1", nil, nil, []TimelineEvent{
		{ID: "e1", PersonaID: "p1", Timestamp: time.Now(), ContextID: "room-2", Importance: 0.6},
	}, nil)

	req := ConsciousnessRequest{RoomID: "room-1"}
	if _, err := e.ConsciousnessContext(ctx, "p1", req); err != nil {
		t.Fatalf("ConsciousnessContext: %v", err)
	}

	if err := e.AppendEvent(ctx, "p1", TimelineEvent{ID: "e2", PersonaID: "p1", Timestamp: time.Now(), ContextID: "room-3", Importance: 0.7}, nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	after, err := e.ConsciousnessContext(ctx, "p1", req)
	if err != nil {
		t.Fatalf("ConsciousnessContext after append: %v", err)
	}
	if after.CrossContextEventCount != 2 {
		t.Errorf("expected invalidated cache to pick up the appended event, got count=%d", after.CrossContextEventCount)
	}
}
