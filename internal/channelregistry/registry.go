package channelregistry

import (
	"sync"
	"time"
)

// personaQueues holds one persona's six domain FIFOs.
type personaQueues struct {
	mu     sync.Mutex
	queues map[ActivityDomain][]*ChannelItem
}

func newPersonaQueues() *personaQueues {
	return &personaQueues{queues: make(map[ActivityDomain][]*ChannelItem, len(domainOrder))}
}

// Registry maps persona id to its six-domain queue set, sharded so
// distinct personas never contend on the same lock (spec.md §5's
// "concurrent map... so distinct personas contend on nothing").
type Registry struct {
	personas sync.Map // string -> *personaQueues
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) personaOf(personaID string) *personaQueues {
	v, _ := r.personas.LoadOrStore(personaID, newPersonaQueues())
	return v.(*personaQueues)
}

// Enqueue routes item into the domain implied by its kind/priority (or an
// explicit override is not supported; override happens by setting
// item.Priority before calling Enqueue).
func (r *Registry) Enqueue(item *ChannelItem) ActivityDomain {
	domain := domainFor(item)
	pq := r.personaOf(item.PersonaID)
	pq.mu.Lock()
	pq.queues[domain] = append(pq.queues[domain], item)
	pq.mu.Unlock()
	return domain
}

// Status reports current queue depths for a persona.
func (r *Registry) Status(personaID string) Status {
	pq := r.personaOf(personaID)
	pq.mu.Lock()
	defer pq.mu.Unlock()
	depths := make(map[ActivityDomain]int, len(domainOrder))
	total := 0
	for _, d := range domainOrder {
		n := len(pq.queues[d])
		depths[d] = n
		total += n
	}
	return Status{PersonaID: personaID, Depths: depths, Total: total}
}

// Clear drops every queued item for a persona.
func (r *Registry) Clear(personaID string) {
	pq := r.personaOf(personaID)
	pq.mu.Lock()
	pq.queues = make(map[ActivityDomain][]*ChannelItem, len(domainOrder))
	pq.mu.Unlock()
}

// consolidate merges queued items that share a TaskID or ThreadID into a
// single item with ConsolidatedCount incremented, per spec.md §4.4 step 1.
// Later duplicates are folded into the first occurrence and dropped.
func consolidate(items []*ChannelItem) []*ChannelItem {
	out := make([]*ChannelItem, 0, len(items))
	byTaskID := make(map[string]*ChannelItem)
	byThreadID := make(map[string]*ChannelItem)

	for _, item := range items {
		var existing *ChannelItem
		if item.Task != nil && item.Task.TaskID != "" {
			existing = byTaskID[item.Task.TaskID]
		}
		if existing == nil && item.ThreadID != "" {
			existing = byThreadID[item.ThreadID]
		}
		if existing != nil {
			existing.ConsolidatedCount++
			continue
		}
		out = append(out, item)
		if item.Task != nil && item.Task.TaskID != "" {
			byTaskID[item.Task.TaskID] = item
		}
		if item.ThreadID != "" {
			byThreadID[item.ThreadID] = item
		}
	}
	return out
}

// ServiceCycle performs domain-local consolidation, then pops the next
// item by scanning domains in priority order (FIFO within a domain).
func (r *Registry) ServiceCycle(personaID string) CycleResult {
	pq := r.personaOf(personaID)
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for _, d := range domainOrder {
		pq.queues[d] = consolidate(pq.queues[d])
	}

	for _, d := range domainOrder {
		queue := pq.queues[d]
		if len(queue) == 0 {
			continue
		}
		item := queue[0]
		pq.queues[d] = queue[1:]
		return CycleResult{ShouldProcess: true, Item: item, Domain: d, WaitHint: 0}
	}

	return CycleResult{ShouldProcess: false, WaitHint: r.waitHint(pq)}
}

// ServiceCycleFull runs ServiceCycle and, if an item was picked, asks the
// cognition engine for a fast-path decision on it.
func (r *Registry) ServiceCycleFull(personaID string, engine CognitionEngine) (CycleResult, *FastPathDecision) {
	result := r.ServiceCycle(personaID)
	if !result.ShouldProcess || engine == nil {
		return result, nil
	}
	decision := engine.FastPathDecide(toInboxMessage(result.Item))
	return result, &decision
}

// waitHint grows the longer every domain has been empty; callers poll less
// aggressively when there is nothing to do. pq.mu must already be held.
func (r *Registry) waitHint(pq *personaQueues) time.Duration {
	for _, d := range domainOrder {
		if len(pq.queues[d]) > 0 {
			return 0
		}
	}
	return 5 * time.Second
}

func toInboxMessage(item *ChannelItem) InboxMessage {
	msg := InboxMessage{PersonaID: item.PersonaID, Payload: item.Payload}
	if roomID, ok := item.Payload["room_id"].(string); ok {
		msg.RoomID = roomID
	}
	if senderID, ok := item.Payload["sender_id"].(string); ok {
		msg.SenderID = senderID
	}
	if content, ok := item.Payload["content"].(string); ok {
		msg.Content = content
	}
	return msg
}
