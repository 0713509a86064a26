package recall

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cambriantech/continuum-core/internal/memoryengine"
	"github.com/cambriantech/continuum-core/internal/memoryengine/embeddings"
)

// coreLayer surfaces high-importance memories that should never be
// forgotten: importance >= 0.8, ranked by importance.
type coreLayer struct{}

func (coreLayer) Name() string { return "core" }

func (coreLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, _ embeddings.Provider) []memoryengine.ScoredMemory {
	records := corpus.HighImportance(0.8, query.MaxResultsPerLayer)
	out := make([]memoryengine.ScoredMemory, len(records))
	for i, r := range records {
		out[i] = memoryengine.ScoredMemory{Record: r, Score: r.Importance, Layer: "core"}
	}
	return out
}

// semanticLayer ranks memories by cosine similarity between the query
// embedding (computed on demand if not supplied) and each memory's stored
// embedding.
type semanticLayer struct{}

func (semanticLayer) Name() string { return "semantic" }

func (semanticLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, embedder embeddings.Provider) []memoryengine.ScoredMemory {
	queryEmbedding := query.Embedding
	if queryEmbedding == nil {
		if query.Text == "" {
			return nil
		}
		emb, err := embedder.Embed(ctx, query.Text)
		if err != nil {
			return nil
		}
		queryEmbedding = emb
	}

	candidates := corpus.WithEmbeddings()
	out := make([]memoryengine.ScoredMemory, len(candidates))
	for i, c := range candidates {
		sim := cosineSimilarity(queryEmbedding, c.Embedding)
		rec := c.Record
		rec.RelevanceScore = sim
		out[i] = memoryengine.ScoredMemory{Record: rec, Score: sim, Layer: "semantic"}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if query.MaxResultsPerLayer > 0 && len(out) > query.MaxResultsPerLayer {
		out = out[:query.MaxResultsPerLayer]
	}
	return out
}

// temporalLayer surfaces what the persona was just thinking about: memories
// from the last two hours, newest first, with a bonus when the memory's
// room matches the query's room.
type temporalLayer struct{}

func (temporalLayer) Name() string { return "temporal" }

func (temporalLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, _ embeddings.Provider) []memoryengine.ScoredMemory {
	window := query.MaxResultsPerLayer * 2
	since := time.Now().Add(-2 * time.Hour)
	recent := corpus.Recent(since, window)

	out := make([]memoryengine.ScoredMemory, 0, len(recent))
	for i, m := range recent {
		recency := 1.0 - float64(i)/float64(window)
		roomBonus := 0.0
		if roomID, _ := m.Context["roomId"].(string); roomID != "" && roomID == query.RoomID {
			roomBonus = 0.2
		}
		score := recency*0.7 + m.Importance*0.3 + roomBonus
		out = append(out, memoryengine.ScoredMemory{Record: m, Score: score, Layer: "temporal"})
		if len(out) >= query.MaxResultsPerLayer {
			break
		}
	}
	return out
}

// associativeLayer extracts keywords from the query text, scores candidate
// memories by tag/content overlap, then follows each top result's
// related-to edges one hop with a dampened score.
type associativeLayer struct{}

func (associativeLayer) Name() string { return "associative" }

func (associativeLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, _ embeddings.Provider) []memoryengine.ScoredMemory {
	if query.Text == "" {
		return nil
	}
	keywords := extractKeywords(query.Text)
	if len(keywords) == 0 {
		return nil
	}

	candidates := corpus.AllLimited(200)
	var out []memoryengine.ScoredMemory
	for _, m := range candidates {
		matches := 0
		lowerContent := strings.ToLower(m.Content)
		for _, kw := range keywords {
			tagHit := false
			for _, tag := range m.Tags {
				if strings.Contains(strings.ToLower(tag), kw) {
					tagHit = true
					break
				}
			}
			if tagHit || strings.Contains(lowerContent, kw) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches)/float64(len(keywords))*0.7 + m.Importance*0.3
		out = append(out, memoryengine.ScoredMemory{Record: m, Score: score, Layer: "associative"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if query.MaxResultsPerLayer > 0 && len(out) > query.MaxResultsPerLayer {
		out = out[:query.MaxResultsPerLayer]
	}

	seen := make(map[string]bool, len(out))
	for _, sm := range out {
		seen[sm.Record.ID] = true
	}
	var relatedIDs []string
	for _, sm := range out {
		relatedIDs = append(relatedIDs, sm.Record.RelatedIDs...)
	}
	if len(relatedIDs) > 0 {
		relatedSet := make(map[string]bool, len(relatedIDs))
		for _, id := range relatedIDs {
			relatedSet[id] = true
		}
		for _, m := range corpus.Records {
			if relatedSet[m.ID] && !seen[m.ID] {
				out = append(out, memoryengine.ScoredMemory{Record: m, Score: m.Importance * 0.5, Layer: "associative"})
				seen[m.ID] = true
			}
		}
	}
	if query.MaxResultsPerLayer > 0 && len(out) > query.MaxResultsPerLayer {
		out = out[:query.MaxResultsPerLayer]
	}
	return out
}

// decayResurfaceLayer implements spaced repetition: memories with
// importance >= 0.5 score higher the longer they have gone unaccessed
// relative to how often they have been accessed.
type decayResurfaceLayer struct{}

func (decayResurfaceLayer) Name() string { return "decay_resurface" }

func (decayResurfaceLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, _ embeddings.Provider) []memoryengine.ScoredMemory {
	candidates := corpus.Decayable(0.5, 100, time.Now())
	out := make([]memoryengine.ScoredMemory, len(candidates))
	for i, c := range candidates {
		decay := c.DaysSinceSeen / (float64(c.Record.AccessCount) + 1.0)
		if decay > 1.0 {
			decay = 1.0
		}
		out[i] = memoryengine.ScoredMemory{Record: c.Record, Score: decay * c.Record.Importance, Layer: "decay_resurface"}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if query.MaxResultsPerLayer > 0 && len(out) > query.MaxResultsPerLayer {
		out = out[:query.MaxResultsPerLayer]
	}
	return out
}

// crossContextLayer pulls in knowledge from other rooms: timeline events
// from the last 24h outside the query's room, scored semantically when a
// query embedding is available and by raw importance otherwise.
type crossContextLayer struct{}

func (crossContextLayer) Name() string { return "cross_context" }

func (crossContextLayer) Recall(ctx context.Context, corpus *memoryengine.Corpus, query memoryengine.RecallQuery, embedder embeddings.Provider) []memoryengine.ScoredMemory {
	since := time.Now().Add(-24 * time.Hour)

	if query.Text != "" {
		queryEmbedding, err := embedder.Embed(ctx, query.Text)
		if err == nil {
			withEmb := corpus.CrossContextEventsWithEmbeddings(query.RoomID, since, 50)
			out := make([]memoryengine.ScoredMemory, len(withEmb))
			for i, c := range withEmb {
				sim := cosineSimilarity(queryEmbedding, c.Embedding)
				rec := timelineToRecord(c.Event, sim)
				out[i] = memoryengine.ScoredMemory{Record: rec, Score: sim*0.7 + c.Event.Importance*0.3, Layer: "cross_context"}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
			if query.MaxResultsPerLayer > 0 && len(out) > query.MaxResultsPerLayer {
				out = out[:query.MaxResultsPerLayer]
			}
			return out
		}
	}

	events := corpus.CrossContextEvents(query.RoomID, since, query.MaxResultsPerLayer)
	out := make([]memoryengine.ScoredMemory, len(events))
	for i, e := range events {
		out[i] = memoryengine.ScoredMemory{Record: timelineToRecord(e, 0), Score: e.Importance, Layer: "cross_context"}
	}
	return out
}

// timelineToRecord converts a TimelineEvent to a MemoryRecord for uniform
// recall output, preserving actor/context identifiers in Context.
func timelineToRecord(e memoryengine.TimelineEvent, relevance float64) memoryengine.MemoryRecord {
	return memoryengine.MemoryRecord{
		ID:         e.ID,
		PersonaID:  e.PersonaID,
		MemoryType: "timeline:" + e.EventType,
		Content:    e.Content,
		Context: map[string]any{
			"context_type": e.ContextType,
			"context_id":   e.ContextID,
			"context_name": e.ContextName,
			"actor_id":     e.ActorID,
			"actor_name":   e.ActorName,
		},
		Timestamp:      e.Timestamp,
		Importance:     e.Importance,
		Tags:           e.Topics,
		Source:         "timeline",
		Layer:          "cross_context",
		RelevanceScore: relevance,
	}
}
