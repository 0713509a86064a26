package recall

import (
	"context"
	"testing"
	"time"

	"github.com/cambriantech/continuum-core/internal/memoryengine"
	"github.com/cambriantech/continuum-core/internal/memoryengine/embeddings"
)

func TestExtractKeywords(t *testing.T) {
	keywords := extractKeywords("What did we discuss about the blue sky yesterday?")
	want := map[string]bool{"discuss": true, "blue": true, "sky": true, "yesterday": true}
	got := map[string]bool{}
	for _, k := range keywords {
		got[k] = true
	}
	for w := range want {
		if !got[w] {
			t.Errorf("expected keyword %q to be extracted, got %v", w, keywords)
		}
	}
	for _, stop := range []string{"the", "did", "about"} {
		if got[stop] {
			t.Errorf("stopword %q should have been filtered", stop)
		}
	}
}

func TestExtractKeywordsAllStopwords(t *testing.T) {
	if keywords := extractKeywords("the a is"); len(keywords) != 0 {
		t.Errorf("expected no keywords, got %v", keywords)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("identical vectors: got %f, want 1", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: got %f, want 0", got)
	}
	if got := cosineSimilarity(nil, []float32{1}); got != 0 {
		t.Errorf("mismatched/empty vectors should return 0, got %f", got)
	}
}

func newCorpusWithThree() *memoryengine.Corpus {
	return &memoryengine.Corpus{
		Records: []memoryengine.MemoryRecord{
			{ID: "m1", Content: "memory number 0", Importance: 0.9, Timestamp: time.Now()},
			{ID: "m2", Content: "memory number 1", Importance: 0.7, Timestamp: time.Now()},
			{ID: "m3", Content: "memory number 2", Importance: 0.5, Timestamp: time.Now()},
		},
		RecordEmbeddings: map[string][]float32{},
		EventEmbeddings:  map[string][]float32{},
	}
}

func TestRecallAllLayersWhenQueryTextPresent(t *testing.T) {
	engine := New()
	corpus := newCorpusWithThree()
	query := memoryengine.RecallQuery{Text: "memory test", RoomID: "room-1", MaxResultsPerLayer: 10}

	result := engine.Recall(context.Background(), corpus, query, embeddings.Stub{}, 10)
	if len(result.Memories) == 0 {
		t.Fatal("expected at least one memory")
	}
	if result.RecallTimeMS < 0 {
		t.Error("recall time should be non-negative")
	}
	if len(result.LayerTimings) != 6 {
		t.Errorf("expected 6 layer timings when query text is present, got %d", len(result.LayerTimings))
	}
}

func TestRecallOmitsSemanticAndAssociativeWithoutQueryText(t *testing.T) {
	engine := New()
	corpus := newCorpusWithThree()
	query := memoryengine.RecallQuery{RoomID: "room-1", MaxResultsPerLayer: 10}

	result := engine.Recall(context.Background(), corpus, query, embeddings.Stub{}, 10)
	if len(result.LayerTimings) != 4 {
		t.Errorf("expected 4 layer timings (core/temporal/decay_resurface/cross_context), got %d", len(result.LayerTimings))
	}
	for _, lt := range result.LayerTimings {
		if lt.Layer == "semantic" || lt.Layer == "associative" {
			t.Errorf("layer %q should not run without query text", lt.Layer)
		}
	}
}

func TestRecallConvergenceBoost(t *testing.T) {
	engine := New()
	corpus := &memoryengine.Corpus{
		Records: []memoryengine.MemoryRecord{
			{ID: "m1", Content: "irrelevant filler", Importance: 0.3, Timestamp: time.Now()},
			{ID: "m2", Content: "purple elephants dance", Importance: 0.9, Timestamp: time.Now(), Tags: []string{"purple", "elephants"}},
			{ID: "m3", Content: "unrelated", Importance: 0.2, Timestamp: time.Now()},
		},
		RecordEmbeddings: map[string][]float32{
			"m1": {1, 0, 0},
			"m2": {0, 1, 0},
			"m3": {0, 0, 1},
		},
		EventEmbeddings: map[string][]float32{},
	}

	query := memoryengine.RecallQuery{Text: "purple elephants", Embedding: []float32{0, 1, 0}, RoomID: "room-1", MaxResultsPerLayer: 10}
	result := engine.Recall(context.Background(), corpus, query, embeddings.Stub{}, 10)

	if len(result.Memories) == 0 {
		t.Fatal("expected results")
	}
	top := result.Memories[0]
	if top.ID != "m2" {
		t.Fatalf("expected m2 to rank first, got %s", top.ID)
	}

	var singleLayerMax float64
	for _, lt := range result.LayerTimings {
		_ = lt
	}
	for _, m := range result.Memories {
		if m.ID == "m2" {
			singleLayerMax = m.RelevanceScore
		}
	}
	if singleLayerMax <= 0.9 {
		t.Errorf("expected convergence-boosted score > its own importance (0.9), got %f", singleLayerMax)
	}
}

func TestMaxResultsZero(t *testing.T) {
	engine := New()
	corpus := newCorpusWithThree()
	result := engine.Recall(context.Background(), corpus, memoryengine.RecallQuery{RoomID: "room-1"}, embeddings.Stub{}, 0)
	if len(result.Memories) != 0 {
		t.Errorf("expected zero memories with maxResults=0, got %d", len(result.Memories))
	}
}
