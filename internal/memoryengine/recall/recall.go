// Package recall implements the six independent recall layers and their
// convergence fusion, grounded on original_source's memory/recall.rs
// (MultiLayerRecall) and spec.md §4.3.
package recall

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cambriantech/continuum-core/internal/memoryengine"
	"github.com/cambriantech/continuum-core/internal/memoryengine/embeddings"
)

// Layer is one independent recall strategy, a pure function of
// (corpus, query, embedding provider).
type Layer interface {
	Name() string
	Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, embedder embeddings.Provider) []memoryengine.ScoredMemory
}

// LayerTiming reports one layer's execution time and hit count.
type LayerTiming struct {
	Layer        string
	TimeMS       float64
	ResultsFound int
}

// Result is the outcome of a fused multi-layer recall.
type Result struct {
	Memories        []memoryengine.MemoryRecord
	RecallTimeMS    float64
	LayerTimings    []LayerTiming
	TotalCandidates int
}

// Engine orchestrates the six default layers, run sequentially (matching
// original_source's note that parallel dispatch threads would otherwise
// starve waiting on these synchronous calls) and merged by convergence
// fusion.
type Engine struct {
	layers []Layer
}

// New constructs a recall Engine with all six default layers, in the fixed
// order core, semantic, temporal, associative, decay_resurface,
// cross_context.
func New() *Engine {
	return &Engine{layers: []Layer{
		coreLayer{},
		semanticLayer{},
		temporalLayer{},
		associativeLayer{},
		decayResurfaceLayer{},
		crossContextLayer{},
	}}
}

// Recall runs every applicable layer against corpus and query, merges
// results by memory id keeping the max score per id, applies the
// convergence boost, and returns the top maxResults.
func (e *Engine) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, embedder embeddings.Provider, maxResults int) Result {
	start := time.Now()

	active := e.layers
	if query.Text == "" {
		active = make([]Layer, 0, len(e.layers))
		for _, l := range e.layers {
			if l.Name() != "semantic" && l.Name() != "associative" {
				active = append(active, l)
			}
		}
	}

	type layerRun struct {
		name    string
		results []memoryengine.ScoredMemory
		timeMS  float64
	}
	runs := make([]layerRun, 0, len(active))
	totalCandidates := 0
	for _, layer := range active {
		layerStart := time.Now()
		results := layer.Recall(ctx, corpus, query, embedder)
		runs = append(runs, layerRun{name: layer.Name(), results: results, timeMS: float64(time.Since(layerStart).Microseconds()) / 1000.0})
		totalCandidates += len(results)
	}

	timings := make([]LayerTiming, len(runs))
	for i, r := range runs {
		timings[i] = LayerTiming{Layer: r.name, TimeMS: r.timeMS, ResultsFound: len(r.results)}
	}

	type merged struct {
		best   memoryengine.ScoredMemory
		layers int
	}
	byID := make(map[string]*merged)
	for _, r := range runs {
		for _, sm := range r.results {
			entry, ok := byID[sm.Record.ID]
			if !ok {
				entry = &merged{best: sm}
				byID[sm.Record.ID] = entry
			}
			if sm.Score > entry.best.Score {
				entry.best.Score = sm.Score
			}
			entry.layers++
		}
	}

	final := make([]memoryengine.ScoredMemory, 0, len(byID))
	for _, m := range byID {
		sm := m.best
		if m.layers > 1 {
			sm.Score *= 1.0 + 0.15*float64(m.layers-1)
		}
		final = append(final, sm)
	}

	sort.Slice(final, func(i, j int) bool {
		if final[i].Score != final[j].Score {
			return final[i].Score > final[j].Score
		}
		return final[i].Record.Importance > final[j].Record.Importance
	})
	if len(final) > maxResults {
		final = final[:maxResults]
	}

	memories := make([]memoryengine.MemoryRecord, len(final))
	for i, sm := range final {
		rec := sm.Record
		rec.RelevanceScore = sm.Score
		rec.Layer = sm.Layer
		memories[i] = rec
	}

	return Result{
		Memories:        memories,
		RecallTimeMS:    float64(time.Since(start).Microseconds()) / 1000.0,
		LayerTimings:    timings,
		TotalCandidates: totalCandidates,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "may": {}, "might": {}, "can": {}, "shall": {}, "to": {},
	"of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {}, "by": {}, "from": {}, "as": {},
	"into": {}, "about": {}, "like": {}, "through": {}, "after": {}, "over": {}, "between": {},
	"out": {}, "up": {}, "down": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {},
	"its": {}, "i": {}, "me": {}, "my": {}, "we": {}, "our": {}, "you": {}, "your": {}, "he": {},
	"she": {}, "they": {}, "them": {}, "what": {}, "which": {}, "who": {}, "when": {}, "where": {},
	"how": {}, "not": {}, "no": {}, "nor": {}, "but": {}, "and": {}, "or": {}, "if": {}, "then": {},
	"so": {}, "too": {}, "very": {}, "just": {}, "don": {}, "now": {}, "here": {}, "there": {},
}

// extractKeywords lowercases, splits on whitespace, drops stopwords and
// tokens shorter than 3 characters, and strips surrounding non-alphanumeric
// characters.
func extractKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
		})
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
