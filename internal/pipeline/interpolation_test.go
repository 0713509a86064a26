package pipeline

import (
	"os"
	"testing"
)

func TestInterpolateStepsOutput(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	ctx.StepResults = append(ctx.StepResults, StepResult{Output: "hello"})

	got := Interpolate("value: {{steps.0.output}}", ctx)
	if got != "value: hello" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateStepsDefaultsToOutput(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	ctx.StepResults = append(ctx.StepResults, StepResult{Output: "hi"})

	got := Interpolate("{{steps.0}}", ctx)
	if got != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateNamedLabel(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	ctx.record(StepResult{Output: "named-value"}, "mylabel")

	got := Interpolate("{{named.mylabel.output}}", ctx)
	if got != "named-value" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateInputAndInputs(t *testing.T) {
	ctx := NewExecutionContext("h1", map[string]any{"foo": "bar"})

	if got := Interpolate("{{input.foo}}", ctx); got != "bar" {
		t.Errorf("input.foo = %q", got)
	}
	if got := Interpolate("{{inputs.foo}}", ctx); got != "bar" {
		t.Errorf("inputs.foo = %q", got)
	}
}

func TestInterpolateEnv(t *testing.T) {
	os.Setenv("PIPELINE_TEST_VAR", "envvalue")
	defer os.Unsetenv("PIPELINE_TEST_VAR")

	ctx := NewExecutionContext("h1", nil)
	got := Interpolate("{{env.PIPELINE_TEST_VAR}}", ctx)
	if got != "envvalue" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateUnresolvedLeftVerbatim(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	got := Interpolate("{{steps.99.output}}", ctx)
	if got != "{{steps.99.output}}" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateDataPathThroughJSONStringOutput(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	ctx.StepResults = append(ctx.StepResults, StepResult{
		Output: `{"topics":[{"name":"Basics"},{"name":"Advanced"}]}`,
	})

	got := Interpolate("{{steps.0.output.topics.0.name}}", ctx)
	if got != "Basics" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateNestedLoopIterationExpression(t *testing.T) {
	ctx := NewExecutionContext("h1", map[string]any{"iteration": 1})
	ctx.StepResults = append(ctx.StepResults, StepResult{
		Output: `{"topics":[{"name":"Basics"},{"name":"Advanced"}]}`,
	})

	got := Interpolate("{{steps.0.output.topics.{{input.iteration}}.name}}", ctx)
	if got != "Advanced" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateLoopResolvesViaLoopBase(t *testing.T) {
	ctx := NewExecutionContext("h1", map[string]any{"_loop_base": 2})
	ctx.StepResults = append(ctx.StepResults,
		StepResult{Output: "step0"},
		StepResult{Output: "step1"},
		StepResult{Output: "step2"},
	)

	got := Interpolate("{{loop.0.output}}", ctx)
	if got != "step2" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateJSONPreservesNumericType(t *testing.T) {
	ctx := NewExecutionContext("h1", nil)
	ctx.StepResults = append(ctx.StepResults, StepResult{Data: map[string]any{"count": 42.0}})

	result := InterpolateJSON("{{steps.0.data.count}}", ctx)
	n, ok := result.(float64)
	if !ok || n != 42.0 {
		t.Errorf("result = %#v, want float64(42)", result)
	}
}

func TestEvaluateConditionGrammar(t *testing.T) {
	cases := map[string]bool{
		"true":      true,
		"false":     false,
		"":          false,
		"0":         false,
		"null":      false,
		"undefined": false,
		"yes":       true,
		"1":         true,
	}
	for input, want := range cases {
		if got := EvaluateCondition(input); got != want {
			t.Errorf("EvaluateCondition(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInterpolateParamsRecursesThroughNestedMaps(t *testing.T) {
	ctx := NewExecutionContext("h1", map[string]any{"name": "world"})
	params := map[string]any{
		"greeting": map[string]any{
			"text": "hello {{input.name}}",
		},
	}
	out := InterpolateParams(params, ctx)
	nested, ok := out["greeting"].(map[string]any)
	if !ok {
		t.Fatalf("greeting = %#v, want map", out["greeting"])
	}
	if nested["text"] != "hello world" {
		t.Errorf("text = %v", nested["text"])
	}
}
