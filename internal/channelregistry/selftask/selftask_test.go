package selftask

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateFirstRunEmitsConsolidationAndSkillAudit(t *testing.T) {
	now := time.Now()
	g := New(func() time.Time { return now })

	tasks := g.Generate("p1", nil)

	var sawConsolidation, sawSkillAudit bool
	for _, task := range tasks {
		switch task.Type {
		case "memory-consolidation":
			sawConsolidation = true
			if task.Priority != 0.5 {
				t.Errorf("memory-consolidation priority = %v, want 0.5", task.Priority)
			}
		case "skill-audit":
			sawSkillAudit = true
			if task.Priority != 0.6 {
				t.Errorf("skill-audit priority = %v, want 0.6", task.Priority)
			}
		}
	}
	if !sawConsolidation || !sawSkillAudit {
		t.Fatalf("expected both periodic self-tasks on first run, got %+v", tasks)
	}
}

func TestGenerateSkipsConsolidationWithinInterval(t *testing.T) {
	now := time.Now()
	clock := now
	g := New(func() time.Time { return clock })

	g.Generate("p1", nil)

	clock = now.Add(30 * time.Minute)
	tasks := g.Generate("p1", nil)
	for _, task := range tasks {
		if task.Type == "memory-consolidation" {
			t.Error("did not expect a second memory-consolidation task within the 1h interval")
		}
	}
}

func TestGenerateResumeWorkForStaleInProgressTask(t *testing.T) {
	now := time.Now()
	g := New(func() time.Time { return now })

	tasks := g.Generate("p1", []TaskRecord{
		{ID: "task-1", Domain: "coding", Status: "in_progress", UpdatedAt: now.Add(-45 * time.Minute)},
	})

	var found *Generated
	for i := range tasks {
		if tasks[i].Type == "resume-work" {
			found = &tasks[i]
		}
	}
	if found == nil {
		t.Fatal("expected a resume-work self-task")
	}
	if found.Priority != 0.7 {
		t.Errorf("priority = %v, want 0.7", found.Priority)
	}
	if !strings.HasPrefix(found.Description, "[Self-Task] Resume unfinished work:") {
		t.Errorf("description = %q, missing expected prefix", found.Description)
	}
}

func TestGenerateNoResumeWorkForFreshInProgressTask(t *testing.T) {
	now := time.Now()
	g := New(func() time.Time { return now })

	tasks := g.Generate("p1", []TaskRecord{
		{ID: "task-1", Domain: "coding", Status: "in_progress", UpdatedAt: now.Add(-5 * time.Minute)},
	})

	for _, task := range tasks {
		if task.Type == "resume-work" {
			t.Error("did not expect a resume-work task for a recently updated task")
		}
	}
}

func TestGenerateGroupsFailedTasksByDomain(t *testing.T) {
	now := time.Now()
	g := New(func() time.Time { return now })

	tasks := g.Generate("p1", []TaskRecord{
		{ID: "a", Domain: "coding", Status: "failed", UpdatedAt: now},
		{ID: "b", Domain: "coding", Status: "failed", UpdatedAt: now},
		{ID: "c", Domain: "writing", Status: "failed", UpdatedAt: now},
	})

	var codingTask, writingTask *Generated
	for i := range tasks {
		if tasks[i].Type != "fine-tune-lora" {
			continue
		}
		if tasks[i].Metadata["loraLayer"] == "coding-expertise" {
			codingTask = &tasks[i]
		}
		if tasks[i].Metadata["loraLayer"] == "writing-expertise" {
			writingTask = &tasks[i]
		}
	}
	if codingTask == nil || writingTask == nil {
		t.Fatalf("expected one fine-tune-lora task per domain, got %+v", tasks)
	}
	if codingTask.Priority != 0.8 {
		t.Errorf("priority = %v, want 0.8", codingTask.Priority)
	}
}
