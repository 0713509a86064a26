package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pipelineexec "github.com/cambriantech/continuum-core/internal/exec"
	"github.com/cambriantech/continuum-core/internal/observability"
	"github.com/cambriantech/continuum-core/internal/shell"
)

// CommandDispatcher is the module-runtime surface a Command step calls
// into. Kept as a narrow local interface so this package does not need to
// import moduleruntime.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) (any, error)
}

// LLMCaller is the AI-provider surface an LLM step calls into.
type LLMCaller interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EventPublisher is the bus surface Emit steps and progress/completion
// events publish through.
type EventPublisher interface {
	Publish(topic string, data any)
}

// logRoot is the base directory pipeline handles log under, per spec.md
// §6's "Log/filesystem layout".
const logRoot = ".continuum/jtag/logs/system/sentinels"

// Executor runs a Pipeline serially, one step at a time, inside an
// ExecutionContext.
type Executor struct {
	dispatcher CommandDispatcher
	llm        LLMCaller
	bus        EventPublisher
	processes  *shell.ProcessRegistry
	metrics    *observability.Metrics
	logger     *slog.Logger

	cancelMu sync.Mutex
	cancel   map[string]chan struct{}
}

// NewExecutor constructs an Executor. dispatcher, llm, and bus may be nil;
// steps that need the missing collaborator fail with a clear error instead
// of panicking. Shell steps register their child process with a shared
// shell.ProcessRegistry so they show up alongside interactive shell
// sessions in any `/jobs`-style listing. metrics may be nil, in which case
// Run records nothing.
func NewExecutor(dispatcher CommandDispatcher, llm LLMCaller, bus EventPublisher, processes *shell.ProcessRegistry, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if processes == nil {
		processes = shell.NewProcessRegistry(logger)
	}
	return &Executor{
		dispatcher: dispatcher,
		llm:        llm,
		bus:        bus,
		processes:  processes,
		metrics:    metrics,
		logger:     logger.With("component", "pipeline"),
		cancel:     make(map[string]chan struct{}),
	}
}

// Cancel signals a single-shot cancellation for the given pipeline handle;
// any in-flight shell step's child process is killed, and subsequent steps
// do not run.
func (e *Executor) Cancel(handle string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if ch, ok := e.cancel[handle]; ok {
		close(ch)
		delete(e.cancel, handle)
	}
}

func (e *Executor) cancelChan(handle string) chan struct{} {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	ch, ok := e.cancel[handle]
	if !ok {
		ch = make(chan struct{})
		e.cancel[handle] = ch
	}
	return ch
}

// Run executes p serially and returns the final PipelineResult. Every step
// is appended to the returned ExecutionContext's StepResults even on
// failure; a failing step breaks the pipeline.
func (e *Executor) Run(ctx context.Context, p Pipeline, ctxInputs map[string]any) (*ExecutionContext, PipelineResult) {
	handle := p.Handle
	if handle == "" {
		handle = "sentinel"
	}
	execCtx := NewExecutionContext(handle, ctxInputs)
	started := time.Now()
	result := PipelineResult{Handle: handle, StartedAt: started, Success: true}

	cancelCh := e.cancelChan(handle)

	if e.metrics != nil {
		e.metrics.SessionStarted("pipeline")
	}

	success := e.runSteps(ctx, p.Steps, execCtx, handle, cancelCh)
	result.Success = success
	if !success && len(execCtx.StepResults) > 0 {
		result.Error = execCtx.StepResults[len(execCtx.StepResults)-1].Error
	}
	result.StepResults = execCtx.StepResults
	result.FinishedAt = time.Now()

	if e.metrics != nil {
		e.metrics.SessionEnded("pipeline", result.FinishedAt.Sub(started).Seconds())
		status := "success"
		if !result.Success {
			status = "failed"
		}
		e.metrics.RunAttempts.WithLabelValues(status).Inc()
	}

	e.publish(fmt.Sprintf("sentinel:%s:complete", handle), map[string]any{
		"success": result.Success,
		"error":   result.Error,
	})

	e.cancelMu.Lock()
	delete(e.cancel, handle)
	e.cancelMu.Unlock()

	return execCtx, result
}

// runSteps executes steps in order against ctx, returning false as soon as
// one fails or a cancellation is observed.
func (e *Executor) runSteps(ctx context.Context, steps []Step, execCtx *ExecutionContext, handle string, cancelCh chan struct{}) bool {
	for _, step := range steps {
		select {
		case <-cancelCh:
			return false
		default:
		}

		result := e.runStep(ctx, step, execCtx, handle, cancelCh)
		execCtx.record(result, step.Label)

		e.publish(fmt.Sprintf("sentinel:%s:progress", handle), map[string]any{
			"index":   result.Index,
			"type":    string(result.Type),
			"success": result.Success,
		})

		if !result.Success {
			return false
		}
	}
	return true
}

func (e *Executor) runStep(ctx context.Context, step Step, execCtx *ExecutionContext, handle string, cancelCh chan struct{}) StepResult {
	start := time.Now()
	index := len(execCtx.StepResults)
	params := InterpolateParams(step.Params, execCtx)

	var result StepResult
	switch step.Type {
	case StepShell:
		result = e.runShell(ctx, params, handle, cancelCh)
	case StepCommand:
		result = e.runCommand(ctx, params)
	case StepLLM:
		result = e.runLLM(ctx, params)
	case StepCondition:
		result = e.runCondition(ctx, step, params, execCtx, handle, cancelCh)
	case StepLoop:
		result = e.runLoop(ctx, step, execCtx, handle, cancelCh)
	case StepEmit:
		result = e.runEmit(params)
	case StepSet:
		result = e.runSet(step, params, execCtx)
	default:
		result = StepResult{Success: false, Error: fmt.Sprintf("unknown step type %q", step.Type)}
	}

	result.Type = step.Type
	result.Index = index
	result.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result
}

func (e *Executor) runCommand(ctx context.Context, params map[string]any) StepResult {
	if e.dispatcher == nil {
		return StepResult{Success: false, Error: "pipeline: no command dispatcher configured"}
	}
	name, _ := params["command"].(string)
	if name == "" {
		return StepResult{Success: false, Error: "pipeline: command step requires a \"command\" param"}
	}
	data, err := e.dispatcher.Dispatch(ctx, name, params)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	return StepResult{Success: true, Data: data, Output: stringify(data)}
}

func (e *Executor) runLLM(ctx context.Context, params map[string]any) StepResult {
	if e.llm == nil {
		return StepResult{Success: false, Error: "pipeline: no LLM provider configured"}
	}
	prompt, _ := params["prompt"].(string)
	output, err := e.llm.Generate(ctx, prompt)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	return StepResult{Success: true, Output: output}
}

func (e *Executor) runCondition(ctx context.Context, step Step, params map[string]any, execCtx *ExecutionContext, handle string, cancelCh chan struct{}) StepResult {
	expr, _ := params["expr"].(string)
	branch := step.Else
	if EvaluateCondition(expr) {
		branch = step.Then
	}
	ok := e.runSteps(ctx, branch, execCtx, handle, cancelCh)
	return StepResult{Success: ok, Output: expr}
}

func (e *Executor) runLoop(ctx context.Context, step Step, execCtx *ExecutionContext, handle string, cancelCh chan struct{}) StepResult {
	count := 0
	switch {
	case step.Count != nil:
		count = *step.Count
	case step.Items != nil:
		count = len(step.Items)
	}

	prevLoopBase, hadPrevLoopBase := execCtx.Inputs["_loop_base"]
	prevIteration, hadPrevIteration := execCtx.Inputs["iteration"]
	defer func() {
		if hadPrevLoopBase {
			execCtx.Inputs["_loop_base"] = prevLoopBase
		} else {
			delete(execCtx.Inputs, "_loop_base")
		}
		if hadPrevIteration {
			execCtx.Inputs["iteration"] = prevIteration
		} else {
			delete(execCtx.Inputs, "iteration")
		}
	}()

	for i := 0; i < count; i++ {
		execCtx.Inputs["_loop_base"] = len(execCtx.StepResults)
		execCtx.Inputs["iteration"] = i
		if step.Items != nil {
			execCtx.Inputs["item"] = step.Items[i]
		}
		if !e.runSteps(ctx, step.Body, execCtx, handle, cancelCh) {
			return StepResult{Success: false, Error: fmt.Sprintf("loop iteration %d failed", i)}
		}
	}
	return StepResult{Success: true, Output: strconv.Itoa(count)}
}

func (e *Executor) runEmit(params map[string]any) StepResult {
	topic, _ := params["topic"].(string)
	if topic == "" {
		return StepResult{Success: false, Error: "pipeline: emit step requires a \"topic\" param"}
	}
	e.publish(topic, params["data"])
	return StepResult{Success: true}
}

func (e *Executor) runSet(step Step, params map[string]any, execCtx *ExecutionContext) StepResult {
	key, _ := params["key"].(string)
	if key == "" {
		return StepResult{Success: false, Error: "pipeline: set step requires a \"key\" param"}
	}
	execCtx.Inputs[key] = params["value"]
	return StepResult{Success: true, Data: params["value"], Output: stringify(params["value"])}
}

func (e *Executor) publish(topic string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, data)
}

// runShell spawns params["command"]/params["args"] as an isolated child
// process, registers it with the shared shell.ProcessRegistry (the same
// session bookkeeping interactive shell sessions use), streams
// stdout/stderr to per-handle log files, publishes one event per output
// line, and honors both a params["timeout_ms"] deadline and the pipeline's
// cancellation channel.
func (e *Executor) runShell(ctx context.Context, params map[string]any, handle string, cancelCh chan struct{}) StepResult {
	command, _ := params["command"].(string)
	if command == "" {
		return StepResult{Success: false, Error: "pipeline: shell step requires a \"command\" param"}
	}
	if !pipelineexec.IsSafeArgument(command) {
		return StepResult{Success: false, Error: "pipeline: shell command failed argument safety check"}
	}

	var args []string
	if raw, ok := params["args"].([]any); ok {
		for _, a := range raw {
			s := fmt.Sprintf("%v", a)
			if !pipelineexec.IsSafeArgument(s) {
				return StepResult{Success: false, Error: fmt.Sprintf("pipeline: unsafe shell argument %q", s)}
			}
			args = append(args, s)
		}
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancelTimeout()
	}

	logDir := filepath.Join(logRoot, handle)
	_ = os.MkdirAll(logDir, 0o755)
	stdoutLog, _ := os.OpenFile(filepath.Join(logDir, "stdout.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	stderrLog, _ := os.OpenFile(filepath.Join(logDir, "stderr.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	combinedLog, _ := os.OpenFile(filepath.Join(logDir, "combined.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	stepsLog, _ := os.OpenFile(filepath.Join(logDir, "steps.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	defer closeAll(stdoutLog, stderrLog, combinedLog, stepsLog)

	cmd := exec.CommandContext(runCtx, command, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	session := &shell.ProcessSession{
		ID:           uuid.NewString(),
		Command:      strings.Join(append([]string{command}, args...), " "),
		ScopeKey:     handle,
		PID:          cmd.Process.Pid,
		StartedAt:    time.Now(),
		NotifyOnExit: true,
	}
	e.processes.AddSession(session)

	done := make(chan struct{})
	go func() {
		select {
		case <-cancelCh:
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go e.streamLines(&wg, stdoutPipe, "stdout", session, stdoutLog, combinedLog)
	go e.streamLines(&wg, stderrPipe, "stderr", session, stderrLog, combinedLog)
	wg.Wait()

	waitErr := cmd.Wait()
	close(done)

	exitCode := 0
	success := waitErr == nil
	status := shell.ProcessStatusCompleted
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		status = shell.ProcessStatusFailed
	} else if waitErr != nil {
		exitCode = -1
		status = shell.ProcessStatusFailed
	}
	e.processes.MarkExited(session, &exitCode, "", status)

	entry, _ := json.Marshal(map[string]any{
		"command":  command,
		"args":     args,
		"exitCode": exitCode,
		"success":  success,
	})
	_, _ = stepsLog.Write(append(entry, '\n'))

	result := StepResult{Success: success, Output: session.Aggregated, ExitCode: &exitCode}
	if !success {
		if waitErr != nil {
			result.Error = waitErr.Error()
		} else {
			result.Error = "command exited non-zero"
		}
	}
	return result
}

func (e *Executor) streamLines(wg *sync.WaitGroup, r io.Reader, stream string, session *shell.ProcessSession, streamLog, combinedLog *os.File) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		ts := time.Now().Format(time.RFC3339Nano)
		if streamLog != nil {
			_, _ = streamLog.WriteString(fmt.Sprintf("[%s] %s\n", ts, line))
		}
		if combinedLog != nil {
			_, _ = combinedLog.WriteString(fmt.Sprintf("[%s] %s: %s\n", ts, stream, line))
		}
		e.processes.AppendOutput(session, stream, line+"\n")
		e.publish(fmt.Sprintf("sentinel:shell:%s", stream), line)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
