package memoryengine

import (
	"context"
	"sync"
	"time"
)

// ConsciousnessRequest parameterizes a consciousness-context build.
type ConsciousnessRequest struct {
	RoomID             string
	CurrentMessage     string
	SkipSemanticSearch bool
}

// ConsciousnessContext is the derived per-persona view fed to a persona's
// cognition engine before it responds: what's been happening elsewhere
// (cross-context), what's fresh in the current room (temporal), and what
// it must never forget (core).
type ConsciousnessContext struct {
	RoomID                string
	CrossContextEvents    []TimelineEvent
	CrossContextEventCount int
	TemporalMemories      []MemoryRecord
	CoreMemories          []MemoryRecord
	BuiltAt               time.Time
}

// consciousnessCache is a per-(persona,room) TTL cache, grounded on
// haasonsaas-nexus's embeddingCache bounded-map pattern generalized to
// time-based expiry instead of LRU eviction (original_source's MemoryCache
// uses the same 30s-TTL scheme).
type consciousnessCache struct {
	mu  sync.Mutex
	ttl time.Duration
	// entries keyed by personaID -> roomID -> cached value
	entries map[string]map[string]consciousnessCacheEntry
}

type consciousnessCacheEntry struct {
	value     ConsciousnessContext
	expiresAt time.Time
}

func newConsciousnessCache(ttl time.Duration) *consciousnessCache {
	return &consciousnessCache{ttl: ttl, entries: make(map[string]map[string]consciousnessCacheEntry)}
}

func (c *consciousnessCache) get(personaID, roomID string) (ConsciousnessContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRoom, ok := c.entries[personaID]
	if !ok {
		return ConsciousnessContext{}, false
	}
	entry, ok := byRoom[roomID]
	if !ok || time.Now().After(entry.expiresAt) {
		return ConsciousnessContext{}, false
	}
	return entry.value, true
}

func (c *consciousnessCache) set(personaID, roomID string, value ConsciousnessContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRoom, ok := c.entries[personaID]
	if !ok {
		byRoom = make(map[string]consciousnessCacheEntry)
		c.entries[personaID] = byRoom
	}
	byRoom[roomID] = consciousnessCacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// invalidate drops every cached room for personaID; called on any
// load/append since new data can change the derived view.
func (c *consciousnessCache) invalidate(personaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, personaID)
}

func (c *consciousnessCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for personaID, byRoom := range c.entries {
		for roomID, entry := range byRoom {
			if now.After(entry.expiresAt) {
				delete(byRoom, roomID)
			}
		}
		if len(byRoom) == 0 {
			delete(c.entries, personaID)
		}
	}
}

// ConsciousnessContext returns the cached consciousness view for
// (personaID, req.RoomID) if present and unexpired, otherwise builds it
// from the persona's current corpus snapshot and caches the result.
func (e *Engine) ConsciousnessContext(ctx context.Context, personaID string, req ConsciousnessRequest) (ConsciousnessContext, error) {
	if cached, ok := e.consciousness.get(personaID, req.RoomID); ok {
		return cached, nil
	}

	corpus, err := e.GetCorpus(personaID)
	if err != nil {
		return ConsciousnessContext{}, err
	}

	now := time.Now()
	crossContext := corpus.CrossContextEvents(req.RoomID, now.Add(-24*time.Hour), 50)
	temporal := corpus.Recent(now.Add(-2*time.Hour), 20)
	core := corpus.HighImportance(0.8, 20)

	result := ConsciousnessContext{
		RoomID:                 req.RoomID,
		CrossContextEvents:     crossContext,
		CrossContextEventCount: len(crossContext),
		TemporalMemories:       temporal,
		CoreMemories:           core,
		BuiltAt:                now,
	}
	e.consciousness.set(personaID, req.RoomID, result)
	return result, nil
}
