// Package pipeline implements the serial pipeline executor: templated
// step interpolation, condition/loop control flow, and the shell/command/
// llm/emit/set step handlers. Grounded on spec.md §4.5 and §6 (recovered
// from original_source's modules/sentinel/{executor.rs,mod.rs,
// interpolation.rs}, whose distillation into spec.md's prose is complete
// enough to implement directly without a line-by-line port).
package pipeline

import "time"

// StepType is the tagged variant of a pipeline Step.
type StepType string

const (
	StepShell     StepType = "shell"
	StepCommand   StepType = "command"
	StepLLM       StepType = "llm"
	StepCondition StepType = "condition"
	StepLoop      StepType = "loop"
	StepEmit      StepType = "emit"
	StepSet       StepType = "set"
)

// Step is one node of a Pipeline. Only the fields relevant to Type are
// populated; Params carries type-specific parameters still needing
// interpolation.
type Step struct {
	Type   StepType
	Label  string // if set, result also lands in ExecutionContext.NamedOutputs
	Params map[string]any

	// Condition
	Then []Step
	Else []Step

	// Loop: exactly one of Count or Items should be set.
	Count *int
	Items []any
	Body  []Step
}

// Pipeline is an ordered list of Steps executed serially.
type Pipeline struct {
	Handle string
	Steps  []Step
}

// StepResult is the outcome of executing one Step, always appended to
// ExecutionContext.StepResults (including failures).
type StepResult struct {
	Type       StepType
	Index      int
	Output     string
	Data       any
	Success    bool
	Error      string
	ExitCode   *int
	DurationMs float64
}

// ExecutionContext threads state through a running pipeline: the inputs a
// step's params interpolate against, every step's result in order, and
// labeled results for named.<label> lookups.
type ExecutionContext struct {
	Handle       string
	Inputs       map[string]any
	StepResults  []StepResult
	NamedOutputs map[string]StepResult
}

// NewExecutionContext constructs an ExecutionContext seeded with inputs.
func NewExecutionContext(handle string, inputs map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &ExecutionContext{
		Handle:       handle,
		Inputs:       inputs,
		StepResults:  make([]StepResult, 0),
		NamedOutputs: make(map[string]StepResult),
	}
}

func (ctx *ExecutionContext) record(result StepResult, label string) {
	ctx.StepResults = append(ctx.StepResults, result)
	if label != "" {
		ctx.NamedOutputs[label] = result
	}
}

// loopBase returns the current _loop_base input (0 if unset), used to
// resolve loop.N.<field> to StepResults[_loop_base + N].
func (ctx *ExecutionContext) loopBase() int {
	v, ok := ctx.Inputs["_loop_base"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// PipelineResult is the final outcome of running a Pipeline to completion
// or failure.
type PipelineResult struct {
	Handle      string
	Success     bool
	Error       string
	StepResults []StepResult
	StartedAt   time.Time
	FinishedAt  time.Time
}
