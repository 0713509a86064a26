package memoryengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cambriantech/continuum-core/internal/memoryengine/embeddings"
	"github.com/cambriantech/continuum-core/internal/memoryengine/recall"
)

// Engine is the top-level manager for all persona memory operations. It
// holds one immutable Corpus snapshot per persona (swapped atomically on
// load/append, matching original_source's PersonaMemoryManager's
// DashMap<persona_id, Arc<MemoryCorpus>>), a shared embedding provider, and
// the recall engine. Within a persona, recall layers operate on a shared
// read-only *Corpus; across personas there is no lock contention.
type Engine struct {
	corpora   sync.Map // string -> *atomic.Pointer[Corpus]
	embedder  embeddings.Provider
	recall    *recall.Engine
	consciousness *consciousnessCache
}

// New constructs an Engine with the given shared embedding provider.
func New(embedder embeddings.Provider) *Engine {
	if embedder == nil {
		embedder = embeddings.Stub{}
	}
	return &Engine{
		embedder:      embedder,
		recall:        recall.New(),
		consciousness: newConsciousnessCache(30 * time.Second),
	}
}

// ErrNoCorpus is returned when an operation targets a persona with no
// loaded corpus.
type ErrNoCorpus struct{ PersonaID string }

func (e ErrNoCorpus) Error() string {
	return fmt.Sprintf("memoryengine: no corpus loaded for persona %q, call LoadCorpus first", e.PersonaID)
}

func (e *Engine) slot(personaID string) *atomic.Pointer[Corpus] {
	v, _ := e.corpora.LoadOrStore(personaID, &atomic.Pointer[Corpus]{})
	return v.(*atomic.Pointer[Corpus])
}

// LoadCorpus replaces any prior snapshot for personaID and invalidates its
// consciousness cache entries.
func (e *Engine) LoadCorpus(ctx context.Context, personaID string, records []MemoryRecord, recordEmbeddings map[string][]float32, events []TimelineEvent, eventEmbeddings map[string][]float32) (LoadStats, error) {
	start := time.Now()

	corpus := &Corpus{
		Records:          records,
		RecordEmbeddings: recordEmbeddings,
		Events:           events,
		EventEmbeddings:  eventEmbeddings,
		LoadedAt:         time.Now(),
	}
	if corpus.RecordEmbeddings == nil {
		corpus.RecordEmbeddings = map[string][]float32{}
	}
	if corpus.EventEmbeddings == nil {
		corpus.EventEmbeddings = map[string][]float32{}
	}

	e.slot(personaID).Store(corpus)
	e.consciousness.invalidate(personaID)

	return LoadStats{
		RecordCount:   len(records),
		EventCount:    len(events),
		EmbeddedCount: len(corpus.RecordEmbeddings),
		LoadLatency:   time.Since(start),
	}, nil
}

// GetCorpus returns the persona's current snapshot.
func (e *Engine) GetCorpus(personaID string) (*Corpus, error) {
	c := e.slot(personaID).Load()
	if c == nil {
		return nil, ErrNoCorpus{PersonaID: personaID}
	}
	return c, nil
}

// AppendMemory clones the persona's corpus, appends m (with an optional
// precomputed embedding), and atomically swaps in the new snapshot.
// O(n) per append; acceptable because appends are rare (~1/min/persona).
func (e *Engine) AppendMemory(ctx context.Context, personaID string, m MemoryRecord, embedding []float32) error {
	slot := e.slot(personaID)
	old := slot.Load()
	if old == nil {
		return ErrNoCorpus{PersonaID: personaID}
	}
	slot.Store(old.withAppendedMemory(m, embedding))
	e.consciousness.invalidate(personaID)
	return nil
}

// AppendEvent clones the persona's corpus, appends e, and atomically swaps
// in the new snapshot.
func (e *Engine) AppendEvent(ctx context.Context, personaID string, ev TimelineEvent, embedding []float32) error {
	slot := e.slot(personaID)
	old := slot.Load()
	if old == nil {
		return ErrNoCorpus{PersonaID: personaID}
	}
	slot.Store(old.withAppendedEvent(ev, embedding))
	e.consciousness.invalidate(personaID)
	return nil
}

// Recall runs the six-layer convergence recall against personaID's corpus.
// If query.Embedding is nil and query.Text is set, it is computed once here
// and shared by every layer that needs it.
func (e *Engine) Recall(ctx context.Context, personaID string, query RecallQuery, maxResults int) (recall.Result, error) {
	corpus, err := e.GetCorpus(personaID)
	if err != nil {
		return recall.Result{}, err
	}
	if query.Embedding == nil && query.Text != "" {
		if emb, embErr := e.embedder.Embed(ctx, query.Text); embErr == nil {
			query.Embedding = emb
		}
	}
	if query.MaxResultsPerLayer == 0 {
		query.MaxResultsPerLayer = maxResults / 2
		if query.MaxResultsPerLayer < 5 {
			query.MaxResultsPerLayer = 5
		}
	}
	return e.recall.Recall(ctx, corpus, query, e.embedder, maxResults), nil
}

// EvictCaches drops expired consciousness-context cache entries; callers
// invoke this periodically (e.g. from the channel registry's background
// tick).
func (e *Engine) EvictCaches() {
	e.consciousness.evictExpired()
}
