package inference

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeBackend is a fully scripted Backend for exercising Generate's
// sanitize/retry/abort decisions without a real model.
type fakeBackend struct {
	identity Identity

	tokenizeFn func(string) (Tokens, error)
	decodeFn   func(Tokens) (string, error)

	prefillLogits [][]float32 // one slice per Prefill call, consumed in order
	forwardLogits [][]float32 // one slice per Forward call, consumed in order
	forwardErrs   []error     // parallel to forwardLogits; non-nil means that call errors instead

	prefillCalls int
	forwardCalls int
	clearCalls   int
}

func (b *fakeBackend) Identity() Identity { return b.identity }
func (b *fakeBackend) State() State       { return StateLoadedBase }

func (b *fakeBackend) Tokenize(ctx context.Context, text string) (Tokens, error) {
	if b.tokenizeFn != nil {
		return b.tokenizeFn(text)
	}
	return Tokens{1, 2, 3}, nil
}

func (b *fakeBackend) Decode(ctx context.Context, tokens Tokens) (string, error) {
	if b.decodeFn != nil {
		return b.decodeFn(tokens)
	}
	return "decoded", nil
}

func (b *fakeBackend) Prefill(ctx context.Context, prompt Tokens) ([]float32, error) {
	idx := b.prefillCalls
	b.prefillCalls++
	if idx >= len(b.prefillLogits) {
		return []float32{0, 1, 0}, nil
	}
	return b.prefillLogits[idx], nil
}

func (b *fakeBackend) Forward(ctx context.Context, token int32) ([]float32, error) {
	idx := b.forwardCalls
	b.forwardCalls++
	if idx < len(b.forwardErrs) && b.forwardErrs[idx] != nil {
		return nil, b.forwardErrs[idx]
	}
	if idx >= len(b.forwardLogits) {
		return []float32{0, 1, 0}, nil
	}
	return b.forwardLogits[idx], nil
}

func (b *fakeBackend) ClearCache(ctx context.Context) error { b.clearCalls++; return nil }
func (b *fakeBackend) Sync(ctx context.Context) error       { return nil }
func (b *fakeBackend) SupportsLoRA() bool                   { return false }
func (b *fakeBackend) RebuildWithLoRA(ctx context.Context, adapterPaths []string) (int, int, error) {
	return 0, 0, nil
}
func (b *fakeBackend) ReloadBase(ctx context.Context) error { return nil }
func (b *fakeBackend) Shutdown(ctx context.Context) error   { return nil }

func withTempReplayDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "prompt-replays")
	old := replayDir
	replayDir = dir
	t.Cleanup(func() { replayDir = old })
	return dir
}

func TestGenerateContextOverflowChecksPromptPlusMaxTokens(t *testing.T) {
	backend := &fakeBackend{identity: Identity{ContextLength: 10}}
	backend.tokenizeFn = func(string) (Tokens, error) { return make(Tokens, 8), nil }

	// 8 prompt tokens + 3 max_tokens = 11 > context length 10: must be
	// rejected even though the prompt alone (8) fits.
	_, err := Generate(context.Background(), backend, Request{Prompt: "hi", MaxTokens: 3})
	var overflow *ErrContextLengthExceeded
	if !errors.As(err, &overflow) {
		t.Fatalf("expected ErrContextLengthExceeded, got %v", err)
	}
	if overflow.PromptTokens != 8 || overflow.MaxTokens != 3 || overflow.ContextLength != 10 {
		t.Fatalf("unexpected overflow fields: %+v", overflow)
	}
}

func TestGenerateContextFitsWhenPromptPlusMaxTokensUnderLimit(t *testing.T) {
	backend := &fakeBackend{identity: Identity{ContextLength: 100}}
	backend.tokenizeFn = func(string) (Tokens, error) { return make(Tokens, 8), nil }

	result, err := Generate(context.Background(), backend, Request{Prompt: "hi", MaxTokens: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinishReason != FinishMaxTokens {
		t.Fatalf("expected FinishMaxTokens, got %v", result.FinishReason)
	}
}

func TestGenerateNaNOnPrefillReturnsErrorAndPersistsExactlyOneReplay(t *testing.T) {
	dir := withTempReplayDir(t)
	backend := &fakeBackend{
		identity:      Identity{ContextLength: 100},
		prefillLogits: [][]float32{{float32(0), float32(nan())}},
	}

	_, err := Generate(context.Background(), backend, Request{Prompt: "bad prompt", MaxTokens: 5})
	var nanErr *ErrNaNOnPrefill
	if !errors.As(err, &nanErr) {
		t.Fatalf("expected ErrNaNOnPrefill, got %v", err)
	}
	if backend.prefillCalls != 1 {
		t.Fatalf("expected exactly one prefill call (no retry), got %d", backend.prefillCalls)
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("read replay dir: %v", rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one replay file, got %d", len(entries))
	}

	data, rerr := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if rerr != nil {
		t.Fatalf("read replay file: %v", rerr)
	}
	var record ReplayRecord
	if jerr := json.Unmarshal(data, &record); jerr != nil {
		t.Fatalf("unmarshal replay record: %v", jerr)
	}
	if record.PromptHash == "" {
		t.Fatal("expected non-empty prompt hash in replay record")
	}
	if record.Reason != "nan_on_prefill" {
		t.Fatalf("expected reason nan_on_prefill, got %q", record.Reason)
	}
}

func TestGenerateForwardFailuresPersistReplayAfterFiveConsecutive(t *testing.T) {
	dir := withTempReplayDir(t)
	errs := make([]error, maxConsecutiveForwardFailures)
	for i := range errs {
		errs[i] = errors.New("device error")
	}
	backend := &fakeBackend{
		identity:    Identity{ContextLength: 1000},
		forwardErrs: errs,
	}

	result, err := Generate(context.Background(), backend, Request{Prompt: "hi", MaxTokens: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinishReason != FinishForwardFailed {
		t.Fatalf("expected FinishForwardFailed, got %v", result.FinishReason)
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("read replay dir: %v", rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one replay file, got %d", len(entries))
	}
}

func TestGenerateBadLogitsInFirstKTokensPersistsReplayAndStops(t *testing.T) {
	dir := withTempReplayDir(t)
	nanLogits := []float32{float32(nan()), float32(nan()), float32(nan()), 0}
	backend := &fakeBackend{
		identity:      Identity{ContextLength: 1000},
		forwardLogits: [][]float32{nanLogits},
	}

	result, err := Generate(context.Background(), backend, Request{Prompt: "hi", MaxTokens: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinishReason != FinishBadLogits {
		t.Fatalf("expected FinishBadLogits, got %v", result.FinishReason)
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("read replay dir: %v", rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one replay file, got %d", len(entries))
	}
}

func TestGenerateEOSStopsBeforeMaxTokens(t *testing.T) {
	backend := &fakeBackend{identity: Identity{ContextLength: 1000, EOSTokenIDs: []int32{1}}}
	// The fake backend's default logits {0, 1, 0} argmax-sample to index 1
	// at temperature 0, which is the configured EOS id.
	result, err := Generate(context.Background(), backend, Request{Prompt: "hi", MaxTokens: 20, Temperature: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinishReason != FinishEOS {
		t.Fatalf("expected FinishEOS, got %v", result.FinishReason)
	}
	if result.TokensGenerated != 0 {
		t.Fatalf("expected 0 generated tokens before EOS, got %d", result.TokensGenerated)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
