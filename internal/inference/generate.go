package inference

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// syncEveryNTokens is how often the decode loop blocks on device sync
// (GPU backends only; CPU backends' Sync is a no-op).
const syncEveryNTokens = 16

// firstKTokensCheckedForNaN is the number of leading decode steps during
// which a NaN-heavy logit vector aborts generation outright, rather than
// merely being sanitized and continued from.
const firstKTokensCheckedForNaN = 3

// maxBadLogitTokensInFirstK aborts generation if more than this many of the
// first firstKTokensCheckedForNaN steps produced bad logits — a strong
// signal the model or adapter merge is broken, not just a noisy sample.
const maxBadLogitTokensInFirstK = 2

// maxConsecutiveForwardFailures bounds how many Forward errors in a row the
// decode loop tolerates (with one sanitize-and-retry each) before giving up.
const maxConsecutiveForwardFailures = 5

// FinishReason explains why Generate stopped producing tokens.
type FinishReason string

const (
	FinishEOS           FinishReason = "eos"
	FinishMaxTokens     FinishReason = "max_tokens"
	FinishBadLogits     FinishReason = "bad_logits"
	FinishForwardFailed FinishReason = "forward_failed"
)

// Request parameters a single Generate call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Seed        int64
}

// Result is what Generate returns to the caller (typically a provider
// adapter's local in-process path).
type Result struct {
	Text            string
	TokensGenerated int
	FinishReason    FinishReason
	BadLogitEvents  int
}

// ErrContextLengthExceeded is returned when the tokenized prompt plus the
// requested max_tokens would exceed the backend's context window; Generate
// never attempts a partial truncation, since truncation heuristics belong
// to the caller, not the core.
type ErrContextLengthExceeded struct {
	PromptTokens  int
	MaxTokens     int
	ContextLength int
}

func (e *ErrContextLengthExceeded) Error() string {
	return fmt.Sprintf("prompt has %d tokens + %d max_tokens, exceeds context length %d", e.PromptTokens, e.MaxTokens, e.ContextLength)
}

// ErrNaNOnPrefill is returned when the sanitizer flags NaN/Inf logits on the
// initial prefill. No retry is attempted for this case: a dirty first-token
// distribution means the prompt itself (or the adapter merge under it) is
// broken, not that the KV cache is stale. A replay record is always
// persisted alongside this error; see persistReplay.
type ErrNaNOnPrefill struct {
	PromptTokens int
}

func (e *ErrNaNOnPrefill) Error() string {
	return fmt.Sprintf("NaN/Inf logits on prefill (prompt_tokens=%d)", e.PromptTokens)
}

// Generate runs the full tokenize -> prefill -> sample -> decode loop shared
// by every backend. It owns sanitization, retry, and abort decisions so that
// individual Backend implementations only need to expose Prefill/Forward.
func Generate(ctx context.Context, backend Backend, req Request) (*Result, error) {
	identity := backend.Identity()

	promptTokens, err := backend.Tokenize(ctx, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(promptTokens)+req.MaxTokens > identity.ContextLength {
		return nil, &ErrContextLengthExceeded{PromptTokens: len(promptTokens), MaxTokens: req.MaxTokens, ContextLength: identity.ContextLength}
	}

	if err := backend.ClearCache(ctx); err != nil {
		return nil, fmt.Errorf("clear cache: %w", err)
	}

	logits, err := backend.Prefill(ctx, promptTokens)
	if err != nil {
		return nil, fmt.Errorf("prefill: %w", err)
	}
	badEvents := 0
	if hadBad := SanitizeLogits(logits); hadBad {
		badEvents++
		if perr := persistReplay(req.Prompt, len(promptTokens), "nan_on_prefill"); perr != nil {
			return nil, fmt.Errorf("persist prefill replay: %w", perr)
		}
		return nil, &ErrNaNOnPrefill{PromptTokens: len(promptTokens)}
	}

	rng := rand.New(rand.NewSource(req.Seed))
	eos := make(map[int32]struct{}, len(identity.EOSTokenIDs))
	for _, id := range identity.EOSTokenIDs {
		eos[id] = struct{}{}
	}

	generated := make(Tokens, 0, req.MaxTokens)
	finish := FinishMaxTokens
	consecutiveFailures := 0

	for i := 0; i < req.MaxTokens; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		token := sampleTemperature(logits, req.Temperature, rng)
		if _, isEOS := eos[token]; isEOS {
			finish = FinishEOS
			break
		}
		generated = append(generated, token)

		if i > 0 && i%syncEveryNTokens == 0 {
			if err := backend.Sync(ctx); err != nil {
				return nil, fmt.Errorf("periodic sync: %w", err)
			}
		}

		nextLogits, err := backend.Forward(ctx, token)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveForwardFailures {
				finish = FinishForwardFailed
				if perr := persistReplay(req.Prompt, len(promptTokens), "forward_failed"); perr != nil {
					return nil, fmt.Errorf("persist forward-failure replay: %w", perr)
				}
				break
			}
			continue
		}
		consecutiveFailures = 0

		badCount := countBadValues(nextLogits, len(nextLogits))
		hadBad := SanitizeLogits(nextLogits)
		if hadBad {
			badEvents++
			if i < firstKTokensCheckedForNaN && badCount > maxBadLogitTokensInFirstK {
				finish = FinishBadLogits
				if perr := persistReplay(req.Prompt, len(promptTokens), "bad_logits"); perr != nil {
					return nil, fmt.Errorf("persist bad-logits replay: %w", perr)
				}
				break
			}
		}
		logits = nextLogits
	}

	if err := backend.Sync(ctx); err != nil {
		return nil, fmt.Errorf("final sync: %w", err)
	}

	text, err := backend.Decode(ctx, generated)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return &Result{
		Text:            text,
		TokensGenerated: len(generated),
		FinishReason:    finish,
		BadLogitEvents:  badEvents,
	}, nil
}

// sampleTemperature is a temperature-only sampler: softmax(logits/T) then a
// single categorical draw. No top-k/top-p truncation is applied; the spec's
// sampler is explicitly temperature-only.
func sampleTemperature(logits []float32, temperature float64, rng *rand.Rand) int32 {
	if temperature <= 0 {
		// Greedy argmax at T=0.
		best := 0
		for i, v := range logits {
			if v > logits[best] {
				best = i
			}
		}
		return int32(best)
	}

	probs := make([]float64, len(logits))
	maxLogit := float64(logits[0])
	for _, v := range logits {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	var sum float64
	for i, v := range logits {
		p := math.Exp((float64(v) - maxLogit) / temperature)
		probs[i] = p
		sum += p
	}

	target := rng.Float64() * sum
	var cumulative float64
	for i, p := range probs {
		cumulative += p
		if cumulative >= target {
			return int32(i)
		}
	}
	return int32(len(probs) - 1)
}
