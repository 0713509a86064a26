// Package channelregistry implements the per-persona channel registry and
// scheduler: six priority-ordered FIFO domains, a cooperative service
// cycle, and the background tick that drains pending tasks and runs the
// self-task generator. Grounded on haasonsaas-nexus's internal/attention
// package (Feed/Item/priority filtering) and spec.md §4.4.
package channelregistry

import "time"

// ActivityDomain is the closed, totally ordered set of queues a Channel
// Item can land in. Domains are listed in priority order: index 0 is
// scanned first by ServiceCycle.
type ActivityDomain int

const (
	DomainUrgent ActivityDomain = iota
	DomainMessage
	DomainTask
	DomainCreative
	DomainSelf
	DomainMaintenance
)

// domainOrder is the fixed priority scan order; ActivityDomain's own
// integer values already match it, but this slice is what ServiceCycle
// actually iterates so the ordering is explicit at the call site.
var domainOrder = []ActivityDomain{
	DomainUrgent, DomainMessage, DomainTask, DomainCreative, DomainSelf, DomainMaintenance,
}

func (d ActivityDomain) String() string {
	switch d {
	case DomainUrgent:
		return "urgent"
	case DomainMessage:
		return "message"
	case DomainTask:
		return "task"
	case DomainCreative:
		return "creative"
	case DomainSelf:
		return "self"
	case DomainMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// ItemKind is the tagged variant of a ChannelItem.
type ItemKind string

const (
	ItemMessage     ItemKind = "message"
	ItemTask        ItemKind = "task"
	ItemSelfTask    ItemKind = "self-task"
	ItemSystemEvent ItemKind = "system-event"
)

// ChannelItem is one unit of work routed into a persona's registry. Common
// fields are always set; variant-specific metadata lives in Task (only
// populated when Kind == ItemTask or ItemSelfTask).
type ChannelItem struct {
	ID         string
	PersonaID  string
	Kind       ItemKind
	CreatedAt  time.Time
	Priority   float64 // [0,1]
	Payload    map[string]any
	ThreadID   string // used for message consolidation
	Task       *TaskMetadata

	ConsolidatedCount int
}

// TaskMetadata carries the variant-specific fields of a Task/SelfTask item.
type TaskMetadata struct {
	TaskID     string
	Assignee   string
	Domain     string
	Description string
	DueDate    *time.Time
	DependsOn  []string
	Status     string
	UpdatedAt  time.Time
	Metadata   map[string]string
}

// domainFor derives an item's queue when it carries no explicit domain
// override: urgent items are flagged via Priority >= 0.9, everything else
// maps from its Kind.
func domainFor(item *ChannelItem) ActivityDomain {
	if item.Priority >= 0.9 {
		return DomainUrgent
	}
	switch item.Kind {
	case ItemMessage:
		return DomainMessage
	case ItemTask:
		return DomainTask
	case ItemSelfTask:
		return DomainSelf
	case ItemSystemEvent:
		return DomainMaintenance
	default:
		return DomainMaintenance
	}
}

// CycleResult is the outcome of one ServiceCycle invocation.
type CycleResult struct {
	ShouldProcess bool
	Item          *ChannelItem
	Domain        ActivityDomain
	WaitHint      time.Duration
}

// FastPathDecision is the cognition engine's quick accept/reject verdict
// for an item, used by ServiceCycleFull to skip deep processing.
type FastPathDecision struct {
	ShouldRespond bool
	Confidence    float64
	Reason        string
	FastPathUsed  bool
}

// InboxMessage is the minimal reconstruction of a queued item needed to
// ask the cognition engine for a fast-path decision.
type InboxMessage struct {
	PersonaID string
	RoomID    string
	SenderID  string
	Content   string
	Payload   map[string]any
}

// CognitionEngine is the persona-side collaborator ServiceCycleFull
// consults for a fast-path decision. Implemented elsewhere (persona
// runtime); this package only depends on the interface.
type CognitionEngine interface {
	FastPathDecide(msg InboxMessage) FastPathDecision
}

// Status reports the current queue depths for one persona.
type Status struct {
	PersonaID string
	Depths    map[ActivityDomain]int
	Total     int
}
