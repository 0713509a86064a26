package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// maxInterpolationPasses bounds the multi-pass resolution in spec.md §6:
// "{{steps.0.output.topics.{{input.iteration}}.name}}" needs the inner
// expression resolved before the outer one can be evaluated.
const maxInterpolationPasses = 5

// placeholderPattern matches one non-nested {{path}} expression; running
// it repeatedly is what gives multi-pass resolution its nested-expression
// support (Pass 1 resolves the innermost {{input.iteration}}, substituting
// its value into the surrounding text; pass 2 then sees a single
// non-nested placeholder and resolves it).
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Interpolate resolves every {{path}} in text against ctx, up to
// maxInterpolationPasses times. Unresolvable paths are left verbatim.
func Interpolate(text string, ctx *ExecutionContext) string {
	for i := 0; i < maxInterpolationPasses; i++ {
		if !placeholderPattern.MatchString(text) {
			break
		}
		next := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
			path := placeholderPattern.FindStringSubmatch(match)[1]
			value, ok := ResolvePath(strings.TrimSpace(path), ctx)
			if !ok {
				return match
			}
			return stringify(value)
		})
		if next == text {
			break
		}
		text = next
	}
	return text
}

// InterpolateJSON interpolates text the same way as Interpolate, then
// tries to re-parse the result as JSON so numeric/object/array values
// survive when the step parameter is itself a JSON position (e.g. a
// nested params value). Falls back to the interpolated string verbatim.
func InterpolateJSON(text string, ctx *ExecutionContext) any {
	resolved := Interpolate(text, ctx)
	var parsed any
	if err := json.Unmarshal([]byte(resolved), &parsed); err == nil {
		return parsed
	}
	return resolved
}

// InterpolateParams walks a step's Params map, interpolating every string
// value (recursively through nested maps/slices) via InterpolateJSON.
func InterpolateParams(params map[string]any, ctx *ExecutionContext) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = interpolateValue(v, ctx)
	}
	return out
}

func interpolateValue(v any, ctx *ExecutionContext) any {
	switch val := v.(type) {
	case string:
		return InterpolateJSON(val, ctx)
	case map[string]any:
		return InterpolateParams(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, ctx)
		}
		return out
	default:
		return v
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// ResolvePath resolves one dotted path against ctx's recognized roots:
// steps.N, named.<label>, loop.N, input/inputs.<key>, env.<VAR>.
func ResolvePath(path string, ctx *ExecutionContext) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return nil, false
	}

	root := parts[0]
	rest := parts[1:]

	switch root {
	case "steps":
		if len(rest) == 0 {
			return nil, false
		}
		idx, err := strconv.Atoi(rest[0])
		if err != nil || idx < 0 || idx >= len(ctx.StepResults) {
			return nil, false
		}
		return stepResultField(ctx.StepResults[idx], rest[1:])

	case "named":
		if len(rest) == 0 {
			return nil, false
		}
		label := rest[0]
		sr, ok := ctx.NamedOutputs[label]
		if !ok {
			return nil, false
		}
		return stepResultField(sr, rest[1:])

	case "loop":
		if len(rest) == 0 {
			return nil, false
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, false
		}
		idx := ctx.loopBase() + n
		if idx < 0 || idx >= len(ctx.StepResults) {
			return nil, false
		}
		return stepResultField(ctx.StepResults[idx], rest[1:])

	case "input", "inputs":
		if len(rest) == 0 {
			return nil, false
		}
		return navigate(ctx.Inputs[rest[0]], rest[1:])

	case "env":
		if len(rest) == 0 {
			return nil, false
		}
		v, ok := os.LookupEnv(rest[0])
		if !ok {
			return nil, false
		}
		return v, true

	default:
		return nil, false
	}
}

// stepResultField resolves the field portion of steps.N.<field> /
// named.<label>.<field> / loop.N.<field> against a StepResult. An empty
// field list defaults to .output.
func stepResultField(sr StepResult, field []string) (any, bool) {
	if len(field) == 0 {
		return sr.Output, true
	}
	switch field[0] {
	case "output":
		return navigate(sr.Output, field[1:])
	case "success":
		return sr.Success, true
	case "error":
		return sr.Error, true
	case "exitCode":
		if sr.ExitCode == nil {
			return nil, false
		}
		return *sr.ExitCode, true
	case "type":
		return string(sr.Type), true
	case "index":
		return sr.Index, true
	case "durationMs":
		return sr.DurationMs, true
	case "data":
		return navigate(sr.Data, field[1:])
	default:
		return nil, false
	}
}

// navigate walks value through the remaining dotted path parts. Numeric
// parts index into slices; string parts index into maps. If a traversed
// value is itself a JSON-encoded string, it is parsed once before
// continuing, so structured data an LLM step returned as text can still be
// traversed field by field.
func navigate(value any, parts []string) (any, bool) {
	current := value
	for _, part := range parts {
		if s, ok := current.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				current = parsed
			}
		}

		switch container := current.(type) {
		case map[string]any:
			v, ok := container[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, false
			}
			current = container[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// EvaluateCondition applies spec.md §6's condition grammar to an
// already-interpolated string: literal "true"/"false" decide directly;
// empty string, "0", "null", "undefined" are false; anything else is true.
func EvaluateCondition(s string) bool {
	switch strings.TrimSpace(s) {
	case "true":
		return true
	case "false", "", "0", "null", "undefined":
		return false
	default:
		return true
	}
}
