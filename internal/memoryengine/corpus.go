package memoryengine

import (
	"sort"
	"time"
)

// HighImportance returns memories with importance >= threshold, sorted by
// importance descending, truncated to limit.
func (c *Corpus) HighImportance(threshold float64, limit int) []MemoryRecord {
	var out []MemoryRecord
	for _, m := range c.Records {
		if m.Importance >= threshold {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return truncateRecords(out, limit)
}

// WithEmbeddings returns every memory that has a stored embedding, paired
// with that embedding.
func (c *Corpus) WithEmbeddings() []struct {
	Record    MemoryRecord
	Embedding []float32
} {
	var out []struct {
		Record    MemoryRecord
		Embedding []float32
	}
	for _, m := range c.Records {
		if emb, ok := c.RecordEmbeddings[m.ID]; ok {
			out = append(out, struct {
				Record    MemoryRecord
				Embedding []float32
			}{m, emb})
		}
	}
	return out
}

// Recent returns memories with timestamp >= since, newest first, truncated
// to limit.
func (c *Corpus) Recent(since time.Time, limit int) []MemoryRecord {
	var out []MemoryRecord
	for _, m := range c.Records {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateRecords(out, limit)
}

// Decayable returns memories with importance >= minImportance, paired with
// their days-since-last-access (clipped at 0), sorted by importance
// descending and truncated to limit.
func (c *Corpus) Decayable(minImportance float64, limit int, now time.Time) []struct {
	Record        MemoryRecord
	DaysSinceSeen float64
} {
	var out []struct {
		Record        MemoryRecord
		DaysSinceSeen float64
	}
	for _, m := range c.Records {
		if m.Importance < minImportance {
			continue
		}
		accessTime := m.Timestamp
		if m.LastAccessedAt != nil {
			accessTime = *m.LastAccessedAt
		}
		days := now.Sub(accessTime).Hours() / 24.0
		if days < 0 {
			days = 0
		}
		out = append(out, struct {
			Record        MemoryRecord
			DaysSinceSeen float64
		}{m, days})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.Importance > out[j].Record.Importance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AllLimited returns every memory sorted by importance descending then
// timestamp descending, truncated to limit.
func (c *Corpus) AllLimited(limit int) []MemoryRecord {
	out := make([]MemoryRecord, len(c.Records))
	copy(out, c.Records)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return truncateRecords(out, limit)
}

// RecordByID looks up a single memory by id.
func (c *Corpus) RecordByID(id string) (MemoryRecord, bool) {
	for _, m := range c.Records {
		if m.ID == id {
			return m, true
		}
	}
	return MemoryRecord{}, false
}

// CrossContextEvents returns timeline events outside excludeRoomID with
// timestamp >= since, sorted by importance then timestamp descending.
func (c *Corpus) CrossContextEvents(excludeRoomID string, since time.Time, limit int) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range c.Events {
		if e.ContextID != excludeRoomID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return truncateEvents(out, limit)
}

// CrossContextEventsWithEmbeddings is CrossContextEvents restricted to
// events that have a stored embedding, sorted by timestamp descending.
func (c *Corpus) CrossContextEventsWithEmbeddings(excludeRoomID string, since time.Time, limit int) []struct {
	Event     TimelineEvent
	Embedding []float32
} {
	var out []struct {
		Event     TimelineEvent
		Embedding []float32
	}
	for _, e := range c.Events {
		if e.ContextID == excludeRoomID || e.Timestamp.Before(since) {
			continue
		}
		if emb, ok := c.EventEmbeddings[e.ID]; ok {
			out = append(out, struct {
				Event     TimelineEvent
				Embedding []float32
			}{e, emb})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.Timestamp.After(out[j].Event.Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EventsSince returns timeline events with timestamp >= since, newest
// first, truncated to limit.
func (c *Corpus) EventsSince(since time.Time, limit int) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range c.Events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateEvents(out, limit)
}

// withAppendedMemory returns a new Corpus with m appended and its embedding
// (if any) recorded; the receiver is left untouched (copy-on-write).
func (c *Corpus) withAppendedMemory(m MemoryRecord, embedding []float32) *Corpus {
	records := append(append([]MemoryRecord{}, c.Records...), m)
	embeddings := cloneEmbeddings(c.RecordEmbeddings)
	if embedding != nil {
		embeddings[m.ID] = embedding
	}
	return &Corpus{
		Records:          records,
		RecordEmbeddings: embeddings,
		Events:           c.Events,
		EventEmbeddings:  c.EventEmbeddings,
		LoadedAt:         c.LoadedAt,
	}
}

// withAppendedEvent returns a new Corpus with e appended and its embedding
// (if any) recorded; the receiver is left untouched (copy-on-write).
func (c *Corpus) withAppendedEvent(e TimelineEvent, embedding []float32) *Corpus {
	events := append(append([]TimelineEvent{}, c.Events...), e)
	embeddings := cloneEmbeddings(c.EventEmbeddings)
	if embedding != nil {
		embeddings[e.ID] = embedding
	}
	return &Corpus{
		Records:          c.Records,
		RecordEmbeddings: c.RecordEmbeddings,
		Events:           events,
		EventEmbeddings:  embeddings,
		LoadedAt:         c.LoadedAt,
	}
}

func cloneEmbeddings(m map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncateRecords(records []MemoryRecord, limit int) []MemoryRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func truncateEvents(events []TimelineEvent, limit int) []TimelineEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}
