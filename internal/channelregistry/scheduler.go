package channelregistry

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cambriantech/continuum-core/internal/channelregistry/selftask"
)

// cronParser supports the same standard+seconds cron grammar as
// internal/tasks' scheduler, reused here to turn the fixed "every 60s" tick
// cadence into a cron.Schedule rather than a bare time.Ticker.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// TaskStore is the storage-adapter surface the scheduler needs. It is
// implemented by internal/storage and kept minimal here so this package
// does not depend on a concrete backend.
type TaskStore interface {
	// PendingTasks returns up to limit pending tasks assigned to personaID.
	PendingTasks(ctx context.Context, personaID string, limit int) ([]selftask.TaskRecord, error)
	// ActiveTasks returns every in-progress/failed task for personaID, used
	// by the self-task rules that need the full picture rather than just
	// pending work.
	ActiveTasks(ctx context.Context, personaID string) ([]selftask.TaskRecord, error)
	// PersistSelfTask records a generated self-task, returning its new id.
	PersistSelfTask(ctx context.Context, personaID string, g selftask.Generated) (string, error)
	// UnconsumedTrainingExamples reports how many examples are queued for
	// fine-tuning but not yet consumed by a training job.
	UnconsumedTrainingExamples(ctx context.Context, personaID string) (int, error)
}

// GenomeTrigger invokes the external genome/job-create command to kick off
// off-core training. Implemented by whatever module owns the host command
// surface; this package only needs the call.
type GenomeTrigger interface {
	TriggerTraining(ctx context.Context, personaID string) error
}

const (
	tickInterval             = 60 * time.Second
	pendingTaskPollLimit     = 10
	trainingExampleThreshold = 50
)

// Scheduler drives the 60-second background tick across every registered
// persona: draining pending tasks into the registry, running the self-task
// generator, and checking training readiness.
type Scheduler struct {
	registry *Registry
	store    TaskStore
	genome   GenomeTrigger
	gen      *selftask.Generator
	log      *slog.Logger

	personas map[string]struct{}
}

// NewScheduler constructs a Scheduler. gen may be nil, in which case a
// default generator using time.Now is created.
func NewScheduler(registry *Registry, store TaskStore, genome GenomeTrigger, gen *selftask.Generator, log *slog.Logger) *Scheduler {
	if gen == nil {
		gen = selftask.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		store:    store,
		genome:   genome,
		gen:      gen,
		log:      log,
		personas: make(map[string]struct{}),
	}
}

// Register adds personaID to the set of personas ticked every interval.
func (s *Scheduler) Register(personaID string) {
	s.personas[personaID] = struct{}{}
}

// Unregister removes personaID from the tick set.
func (s *Scheduler) Unregister(personaID string) {
	delete(s.personas, personaID)
}

// Run blocks, ticking every 60 seconds until ctx is cancelled. The cadence
// is expressed as a cron schedule ("@every 1m") and its Next() is
// recomputed after each fire, so the loop self-corrects against clock
// drift instead of accumulating it the way a bare time.Ticker would. Each
// tick processes every registered persona sequentially; concurrency across
// personas is left to the caller, per spec.md §4.4.
func (s *Scheduler) Run(ctx context.Context) {
	sched, err := cronParser.Parse("@every 1m")
	if err != nil {
		s.log.Error("invalid tick schedule, falling back to fixed interval", "error", err)
		s.runFixedInterval(ctx)
		return
	}

	next := sched.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(ctx)
			next = sched.Next(time.Now())
		}
	}
}

func (s *Scheduler) runFixedInterval(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass over every registered persona. Exported so tests and
// callers that manage their own loop can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	for personaID := range s.personas {
		if err := s.tickPersona(ctx, personaID); err != nil {
			s.log.Error("scheduler tick failed", "persona_id", personaID, "error", err)
		}
	}
}

func (s *Scheduler) tickPersona(ctx context.Context, personaID string) error {
	pending, err := s.store.PendingTasks(ctx, personaID, pendingTaskPollLimit)
	if err != nil {
		return err
	}
	for _, t := range pending {
		s.registry.Enqueue(&ChannelItem{
			ID:        t.ID,
			PersonaID: personaID,
			Kind:      ItemTask,
			CreatedAt: t.UpdatedAt,
			Priority:  0,
			Task: &TaskMetadata{
				TaskID:    t.ID,
				Domain:    t.Domain,
				Status:    t.Status,
				UpdatedAt: t.UpdatedAt,
			},
		})
	}

	active, err := s.store.ActiveTasks(ctx, personaID)
	if err != nil {
		return err
	}
	for _, g := range s.gen.Generate(personaID, active) {
		id, perr := s.store.PersistSelfTask(ctx, personaID, g)
		if perr != nil {
			s.log.Error("persist self-task failed", "persona_id", personaID, "type", g.Type, "error", perr)
			continue
		}
		s.registry.Enqueue(&ChannelItem{
			ID:        id,
			PersonaID: personaID,
			Kind:      ItemSelfTask,
			CreatedAt: time.Now(),
			Priority:  g.Priority,
			Task: &TaskMetadata{
				TaskID:      id,
				Description: g.Description,
				Status:      "pending",
				Metadata:    g.Metadata,
			},
		})
	}

	count, err := s.store.UnconsumedTrainingExamples(ctx, personaID)
	if err != nil {
		return err
	}
	if count >= trainingExampleThreshold && s.genome != nil {
		if terr := s.genome.TriggerTraining(ctx, personaID); terr != nil {
			s.log.Error("genome training trigger failed", "persona_id", personaID, "error", terr)
		}
	}
	return nil
}
