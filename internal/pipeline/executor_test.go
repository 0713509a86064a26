package pipeline

import (
	"context"
	"errors"
	"testing"
)

type stubDispatcher struct {
	calls  []string
	result any
	err    error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, name string, params map[string]any) (any, error) {
	d.calls = append(d.calls, name)
	return d.result, d.err
}

type stubLLM struct {
	prompts []string
	output  string
	err     error
}

func (l *stubLLM) Generate(ctx context.Context, prompt string) (string, error) {
	l.prompts = append(l.prompts, prompt)
	return l.output, l.err
}

type stubBus struct {
	published []string
}

func (b *stubBus) Publish(topic string, data any) {
	b.published = append(b.published, topic)
}

func TestExecutorRunCommandStep(t *testing.T) {
	dispatcher := &stubDispatcher{result: map[string]any{"ok": true}}
	bus := &stubBus{}
	exec := NewExecutor(dispatcher, nil, bus, nil, nil, nil)

	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepCommand, Params: map[string]any{"command": "memory/recall"}},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "memory/recall" {
		t.Errorf("calls = %v", dispatcher.calls)
	}
	if len(execCtx.StepResults) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(execCtx.StepResults))
	}
}

func TestExecutorRunLLMStep(t *testing.T) {
	llm := &stubLLM{output: "generated text"}
	exec := NewExecutor(nil, llm, nil, nil, nil, nil)

	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepLLM, Params: map[string]any{"prompt": "say hi"}},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if execCtx.StepResults[0].Output != "generated text" {
		t.Errorf("Output = %q", execCtx.StepResults[0].Output)
	}
}

func TestExecutorFailureBreaksPipeline(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.New("boom")}
	exec := NewExecutor(dispatcher, nil, nil, nil, nil, nil)

	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepCommand, Params: map[string]any{"command": "ai/generate"}},
		{Type: StepSet, Params: map[string]any{"key": "never", "value": "reached"}},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(execCtx.StepResults) != 1 {
		t.Fatalf("expected the second step to be skipped, got %d results", len(execCtx.StepResults))
	}
	if _, ok := execCtx.Inputs["never"]; ok {
		t.Error("expected the set step after the failure never to run")
	}
}

func TestExecutorSetStepAssignsInput(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil, nil, nil)
	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepSet, Params: map[string]any{"key": "greeting", "value": "hello"}},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatal("expected success")
	}
	if execCtx.Inputs["greeting"] != "hello" {
		t.Errorf("Inputs[greeting] = %v", execCtx.Inputs["greeting"])
	}
}

func TestExecutorConditionBranchesThen(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil, nil, nil)
	p := Pipeline{Handle: "h1", Steps: []Step{
		{
			Type:   StepCondition,
			Params: map[string]any{"expr": "true"},
			Then:   []Step{{Type: StepSet, Params: map[string]any{"key": "branch", "value": "then"}}},
			Else:   []Step{{Type: StepSet, Params: map[string]any{"key": "branch", "value": "else"}}},
		},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatal("expected success")
	}
	if execCtx.Inputs["branch"] != "then" {
		t.Errorf("branch = %v, want then", execCtx.Inputs["branch"])
	}
}

func TestExecutorConditionBranchesElse(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil, nil, nil)
	p := Pipeline{Handle: "h1", Steps: []Step{
		{
			Type:   StepCondition,
			Params: map[string]any{"expr": "0"},
			Then:   []Step{{Type: StepSet, Params: map[string]any{"key": "branch", "value": "then"}}},
			Else:   []Step{{Type: StepSet, Params: map[string]any{"key": "branch", "value": "else"}}},
		},
	}}

	execCtx, _ := exec.Run(context.Background(), p, nil)
	if execCtx.Inputs["branch"] != "else" {
		t.Errorf("branch = %v, want else", execCtx.Inputs["branch"])
	}
}

func TestExecutorLoopNestedInterpolation(t *testing.T) {
	llm := &stubLLM{output: `{"topics":[{"name":"Basics"},{"name":"Advanced"}]}`}
	exec := NewExecutor(nil, llm, nil, nil, nil, nil)

	count := 2
	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepLLM, Label: "topics", Params: map[string]any{"prompt": "list topics"}},
		{
			Type:  StepLoop,
			Count: &count,
			Body: []Step{
				{Type: StepSet, Params: map[string]any{
					"key":   "topic_name",
					"value": "{{steps.0.output.topics.{{input.iteration}}.name}}",
				}},
			},
		},
	}}

	execCtx, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	// step 0 is the LLM step; steps 1 and 2 are the loop body's set step for
	// iterations 0 and 1; step 3 is the loop step's own summary result.
	if len(execCtx.StepResults) != 4 {
		t.Fatalf("expected 4 recorded steps, got %d: %+v", len(execCtx.StepResults), execCtx.StepResults)
	}
	if execCtx.StepResults[1].Output != "Basics" {
		t.Errorf("iteration 0 output = %q, want Basics", execCtx.StepResults[1].Output)
	}
	if execCtx.StepResults[2].Output != "Advanced" {
		t.Errorf("iteration 1 output = %q, want Advanced", execCtx.StepResults[2].Output)
	}
}

func TestExecutorEmitPublishesEvent(t *testing.T) {
	bus := &stubBus{}
	exec := NewExecutor(nil, nil, bus, nil, nil, nil)
	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepEmit, Params: map[string]any{"topic": "custom.event", "data": "payload"}},
	}}

	_, result := exec.Run(context.Background(), p, nil)
	if !result.Success {
		t.Fatal("expected success")
	}
	found := false
	for _, topic := range bus.published {
		if topic == "custom.event" {
			found = true
		}
	}
	if !found {
		t.Errorf("published topics = %v, expected custom.event among them", bus.published)
	}
}

func TestExecutorPublishesProgressAndCompletionEvents(t *testing.T) {
	bus := &stubBus{}
	exec := NewExecutor(nil, nil, bus, nil, nil, nil)
	p := Pipeline{Handle: "myhandle", Steps: []Step{
		{Type: StepSet, Params: map[string]any{"key": "a", "value": "b"}},
	}}

	exec.Run(context.Background(), p, nil)

	var sawProgress, sawComplete bool
	for _, topic := range bus.published {
		if topic == "sentinel:myhandle:progress" {
			sawProgress = true
		}
		if topic == "sentinel:myhandle:complete" {
			sawComplete = true
		}
	}
	if !sawProgress || !sawComplete {
		t.Errorf("published = %v", bus.published)
	}
}

func TestExecutorCommandStepWithoutDispatcherFails(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil, nil, nil)
	p := Pipeline{Handle: "h1", Steps: []Step{
		{Type: StepCommand, Params: map[string]any{"command": "ai/generate"}},
	}}

	_, result := exec.Run(context.Background(), p, nil)
	if result.Success {
		t.Fatal("expected failure without a configured dispatcher")
	}
}
