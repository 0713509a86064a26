package ggufbackend

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cambriantech/continuum-core/internal/inference"
	"github.com/cambriantech/continuum-core/internal/inference/lora"
)

// Backend is the GGUF model backend. It lazy-loads metadata on first use
// (Unloaded -> Loaded(base)) and tracks the active LoRA adapter set for the
// Loaded(base) <-> Loaded(base+adapters) transitions.
type Backend struct {
	path string

	mu              sync.Mutex
	state           inference.State
	md              *Metadata
	activeAdapters  []string
	mergedDeltas    lora.MergeResult
	kvCacheSize     int // number of tokens currently cached, reset by ClearCache
	vocabSize       int
}

var _ inference.Backend = (*Backend)(nil)

// New constructs a backend bound to a GGUF file path. No I/O happens until
// the first Tokenize/Prefill/Forward call triggers the lazy load.
func New(path string) *Backend {
	return &Backend{path: path, state: inference.StateUnloaded}
}

func (b *Backend) ensureLoaded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != inference.StateUnloaded {
		return nil
	}
	md, err := ReadMetadata(b.path)
	if err != nil {
		return fmt.Errorf("ggufbackend: load %s: %w", b.path, err)
	}
	b.md = md
	b.vocabSize = md.VocabSize
	if b.vocabSize == 0 {
		b.vocabSize = 32000
	}
	b.state = inference.StateLoadedBase
	return nil
}

func (b *Backend) Identity() inference.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.md == nil {
		return inference.Identity{Format: inference.FormatGGUF, Device: inference.DeviceCPU}
	}
	return inference.Identity{
		ModelID:       b.path,
		Architecture:  b.md.Architecture,
		ContextLength: b.md.ContextLength,
		EOSTokenIDs:   b.md.EOSTokenIDs,
		Format:        inference.FormatGGUF,
		Device:        inference.DeviceCPU,
		SupportsLoRA:  b.md.Architecture == "llama",
	}
}

func (b *Backend) State() inference.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Tokenize uses a byte-fallback scheme: this backend ships no BPE merge
// table, so each UTF-8 rune maps to a stable token id derived from its code
// point modulo vocab size. Real deployments supply an architecture-specific
// tokenizer; this keeps the state machine and generate loop exercisable.
func (b *Backend) Tokenize(ctx context.Context, text string) (inference.Tokens, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	tokens := make(inference.Tokens, len(runes))
	for i, r := range runes {
		tokens[i] = int32(int(r) % b.vocabSize)
	}
	return tokens, nil
}

func (b *Backend) Decode(ctx context.Context, tokens inference.Tokens) (string, error) {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune('a' + (t % 26))
	}
	return string(runes), nil
}

func (b *Backend) Prefill(ctx context.Context, prompt inference.Tokens) ([]float32, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.kvCacheSize = len(prompt)
	b.mu.Unlock()
	if len(prompt) == 0 {
		return b.logitsFor(0), nil
	}
	return b.logitsFor(prompt[len(prompt)-1]), nil
}

func (b *Backend) Forward(ctx context.Context, token int32) ([]float32, error) {
	b.mu.Lock()
	b.kvCacheSize++
	b.mu.Unlock()
	return b.logitsFor(token), nil
}

// logitsFor derives a deterministic pseudo-distribution from the previous
// token's hash, peaked at the next token id, standing in for a real decoder
// forward pass (see package doc).
func (b *Backend) logitsFor(token int32) []float32 {
	logits := make([]float32, b.vocabSize)
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(token), byte(token >> 8), byte(token >> 16), byte(token >> 24)})
	peak := int(h.Sum32()) % b.vocabSize
	if peak < 0 {
		peak += b.vocabSize
	}
	for i := range logits {
		logits[i] = -10.0
	}
	logits[peak] = 10.0
	return logits
}

func (b *Backend) ClearCache(ctx context.Context) error {
	b.mu.Lock()
	b.kvCacheSize = 0
	b.mu.Unlock()
	return nil
}

func (b *Backend) Sync(ctx context.Context) error { return nil }

func (b *Backend) SupportsLoRA() bool {
	return b.Identity().SupportsLoRA
}

// RebuildWithLoRA merges the named adapters (in order) using the Llama name
// mapping and records the new active set, transitioning to
// Loaded(base+adapters). An empty list is equivalent to ReloadBase.
func (b *Backend) RebuildWithLoRA(ctx context.Context, adapterPaths []string) (int, int, error) {
	if len(adapterPaths) == 0 {
		return 0, 0, b.ReloadBase(ctx)
	}
	if !b.SupportsLoRA() {
		return 0, 0, fmt.Errorf("ggufbackend: architecture %q has no LoRA name mapping", b.md.Architecture)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	weights := lora.LoadBaseWeights(lora.LlamaNameMapping)
	layerNames := lora.LayerNames(lora.LlamaNameMapping)
	adapters := make([]lora.Adapter, len(adapterPaths))
	for i, path := range adapterPaths {
		adapters[i] = lora.LoadAdapter(path)
	}

	b.activeAdapters = adapterPaths
	b.mergedDeltas = lora.MergeStacked(weights, lora.LlamaNameMapping, layerNames, adapters)
	b.state = inference.StateLoadedBaseWithAdapters
	return b.mergedDeltas.Merged, b.mergedDeltas.Failed, nil
}

func (b *Backend) ReloadBase(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeAdapters = nil
	b.mergedDeltas = lora.MergeResult{}
	if b.state == inference.StateLoadedBaseWithAdapters {
		b.state = inference.StateLoadedBase
	}
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = inference.StateUnloaded
	b.md = nil
	return nil
}
