// Package memoryengine holds the per-persona memory corpus, its snapshot
// lifecycle, and the consciousness-context cache. The six recall layers and
// their convergence fusion live in the recall subpackage.
package memoryengine

import "time"

// MemoryRecord is a single remembered fact about or for a persona.
type MemoryRecord struct {
	ID              string
	PersonaID       string
	MemoryType      string
	Content         string
	Context         map[string]any
	Timestamp       time.Time
	Importance      float64
	AccessCount     int
	Tags            []string
	RelatedIDs      []string
	Source          string
	LastAccessedAt  *time.Time
	Layer           string // populated only when returned from recall
	RelevanceScore  float64 // populated only when returned from recall
}

// TimelineEvent is an observed happening in a persona's activity stream,
// distinct from a MemoryRecord until folded in by the cross-context layer.
type TimelineEvent struct {
	ID          string
	PersonaID   string
	Timestamp   time.Time
	ContextType string
	ContextID   string
	ContextName string
	EventType   string
	ActorID     string
	ActorName   string
	Content     string
	Importance  float64
	Topics      []string
}

// Corpus is an immutable per-persona snapshot: records, their embeddings,
// timeline events, their embeddings, and the instant it was loaded. Readers
// holding a *Corpus are unaffected by a later LoadCorpus/AppendMemory call;
// the owning Engine atomically swaps in a new snapshot rather than mutating
// this one.
type Corpus struct {
	Records           []MemoryRecord
	RecordEmbeddings  map[string][]float32
	Events            []TimelineEvent
	EventEmbeddings   map[string][]float32
	LoadedAt          time.Time
}

// RecallQuery describes one recall request against a persona's corpus.
type RecallQuery struct {
	Text               string
	Embedding          []float32
	RoomID             string
	MaxResultsPerLayer int
}

// ScoredMemory is a MemoryRecord annotated with the layer that produced it
// and its score within that layer, before convergence fusion.
type ScoredMemory struct {
	Record MemoryRecord
	Score  float64
	Layer  string
}

// LoadStats reports the outcome of a LoadCorpus call.
type LoadStats struct {
	RecordCount    int
	EventCount     int
	EmbeddedCount  int
	LoadLatency    time.Duration
}
