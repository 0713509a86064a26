// Package selftask implements the Self-Task Generator invoked by the
// channel scheduler's background tick: it looks at a persona's recent
// activity and synthesizes maintenance/self-improvement tasks, grounded on
// spec.md §4.4 step 2.
package selftask

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the same "@every" descriptor grammar used by the
// channel scheduler's own tick; reused here so the ≥1h/≥6h self-task
// cadences are cron.Schedule.Next() lookups rather than raw duration math.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	consolidationSchedule, _ = cronParser.Parse("@every 1h")
	skillAuditSchedule, _    = cronParser.Parse("@every 6h")
)

// TaskRecord is the subset of a persisted task the generator needs to read.
type TaskRecord struct {
	ID        string
	Domain    string
	Status    string // pending | in_progress | completed | failed
	UpdatedAt time.Time
}

// Generated is one self-task emitted by the generator, ready to be
// persisted and enqueued as a ChannelItem by the caller.
type Generated struct {
	Type        string // memory-consolidation | skill-audit | resume-work | fine-tune-lora
	Description string
	Priority    float64
	Metadata    map[string]string
}

// Clock lets tests control "now" without monkeypatching time.Now.
type Clock func() time.Time

// Generator tracks per-persona last-run timestamps for the periodic
// self-tasks (memory consolidation, skill audit) and derives the
// event-triggered ones (resume-work, fine-tune-lora) fresh every tick.
type Generator struct {
	now Clock

	lastConsolidation map[string]time.Time
	lastSkillAudit    map[string]time.Time
}

// New constructs a Generator. If now is nil, time.Now is used.
func New(now Clock) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		now:               now,
		lastConsolidation: make(map[string]time.Time),
		lastSkillAudit:    make(map[string]time.Time),
	}
}

const resumeWorkStaleness = 30 * time.Minute

// due reports whether schedule.Next(last) has already passed as of now;
// a zero last always counts as due.
func due(schedule cron.Schedule, last time.Time, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return !schedule.Next(last).After(now)
}

// Generate evaluates every rule for one persona against its current tasks
// and returns the self-tasks the tick should persist and enqueue.
func (g *Generator) Generate(personaID string, tasks []TaskRecord) []Generated {
	now := g.now()
	var out []Generated

	if due(consolidationSchedule, g.lastConsolidation[personaID], now) {
		g.lastConsolidation[personaID] = now
		out = append(out, Generated{
			Type:        "memory-consolidation",
			Description: "[Self-Task] Consolidate recent memories",
			Priority:    0.5,
		})
	}

	if due(skillAuditSchedule, g.lastSkillAudit[personaID], now) {
		g.lastSkillAudit[personaID] = now
		out = append(out, Generated{
			Type:        "skill-audit",
			Description: "[Self-Task] Audit skill coverage and gaps",
			Priority:    0.6,
		})
	}

	for _, t := range tasks {
		if t.Status == "in_progress" && now.Sub(t.UpdatedAt) > resumeWorkStaleness {
			out = append(out, Generated{
				Type:        "resume-work",
				Description: fmt.Sprintf("[Self-Task] Resume unfinished work: %s", t.ID),
				Priority:    0.7,
				Metadata:    map[string]string{"taskId": t.ID},
			})
		}
	}

	failedByDomain := make(map[string][]string)
	for _, t := range tasks {
		if t.Status == "failed" {
			failedByDomain[t.Domain] = append(failedByDomain[t.Domain], t.ID)
		}
	}
	for domain, ids := range failedByDomain {
		out = append(out, Generated{
			Type:        "fine-tune-lora",
			Description: fmt.Sprintf("[Self-Task] Fine-tune LoRA for domain %q (%d failures)", domain, len(ids)),
			Priority:    0.8,
			Metadata: map[string]string{
				"loraLayer": domain + "-expertise",
			},
		})
	}

	return out
}
