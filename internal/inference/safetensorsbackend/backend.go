// Package safetensorsbackend implements the safetensors model backend: a
// JSON header describing tensor names/shapes/dtypes/offsets followed by raw
// tensor bytes. Like ggufbackend, its forward pass is a deliberately
// simplified stand-in (see DESIGN.md's C1-C3 standard-library
// justification) rather than a full transformer decode.
package safetensorsbackend

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	"github.com/cambriantech/continuum-core/internal/inference"
	"github.com/cambriantech/continuum-core/internal/inference/lora"
)

// TensorEntry is one entry in the safetensors JSON header.
type TensorEntry struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Header is the parsed safetensors header plus the sidecar config.json
// fields the backend needs (architecture, context length, eos token ids).
type Header struct {
	Tensors       map[string]TensorEntry
	Architecture  string
	ContextLength int
	EOSTokenIDs   []int32
	VocabSize     int
}

// ReadHeader parses the 8-byte length prefix + JSON header of a safetensors
// file. Model-level fields (architecture/context length/eos ids) are read
// from a sibling config.json when present, matching the HF safetensors
// convention of a separate config file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: open: %w", err)
	}
	defer f.Close()

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("safetensors: read header length: %w", err)
	}
	buf := make([]byte, headerLen)
	if _, err := f.Read(buf); err != nil {
		return nil, fmt.Errorf("safetensors: read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	tensors := make(map[string]TensorEntry, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var entry TensorEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			return nil, fmt.Errorf("safetensors: parse tensor %q: %w", name, err)
		}
		tensors[name] = entry
	}

	hdr := &Header{Tensors: tensors, ContextLength: 4096, VocabSize: 32000}
	if cfg, err := readSidecarConfig(path); err == nil {
		hdr.Architecture = cfg.ModelType
		if cfg.MaxPositionEmbeddings > 0 {
			hdr.ContextLength = cfg.MaxPositionEmbeddings
		}
		if cfg.VocabSize > 0 {
			hdr.VocabSize = cfg.VocabSize
		}
		if cfg.EOSTokenID > 0 {
			hdr.EOSTokenIDs = []int32{int32(cfg.EOSTokenID)}
		}
	}
	return hdr, nil
}

type sidecarConfig struct {
	ModelType              string `json:"model_type"`
	MaxPositionEmbeddings  int    `json:"max_position_embeddings"`
	VocabSize              int    `json:"vocab_size"`
	EOSTokenID             int    `json:"eos_token_id"`
}

func readSidecarConfig(safetensorsPath string) (*sidecarConfig, error) {
	dir := safetensorsPath[:len(safetensorsPath)-len("/model.safetensors")]
	data, err := os.ReadFile(dir + "/config.json")
	if err != nil {
		return nil, err
	}
	var cfg sidecarConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Backend is the safetensors model backend, structurally parallel to
// ggufbackend.Backend.
type Backend struct {
	path string

	mu             sync.Mutex
	state          inference.State
	hdr            *Header
	activeAdapters []string
	mergedDeltas   lora.MergeResult
	kvCacheSize    int
}

var _ inference.Backend = (*Backend)(nil)

// New constructs a backend bound to a safetensors file path.
func New(path string) *Backend {
	return &Backend{path: path, state: inference.StateUnloaded}
}

func (b *Backend) ensureLoaded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != inference.StateUnloaded {
		return nil
	}
	hdr, err := ReadHeader(b.path)
	if err != nil {
		return fmt.Errorf("safetensorsbackend: load %s: %w", b.path, err)
	}
	b.hdr = hdr
	b.state = inference.StateLoadedBase
	return nil
}

func (b *Backend) Identity() inference.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hdr == nil {
		return inference.Identity{Format: inference.FormatSafetensors, Device: inference.DeviceCPU}
	}
	return inference.Identity{
		ModelID:       b.path,
		Architecture:  b.hdr.Architecture,
		ContextLength: b.hdr.ContextLength,
		EOSTokenIDs:   b.hdr.EOSTokenIDs,
		Format:        inference.FormatSafetensors,
		Device:        inference.DeviceCPU,
		SupportsLoRA:  b.hdr.Architecture == "llama",
	}
}

func (b *Backend) State() inference.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) Tokenize(ctx context.Context, text string) (inference.Tokens, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	tokens := make(inference.Tokens, len(runes))
	for i, r := range runes {
		tokens[i] = int32(int(r) % b.hdr.VocabSize)
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
	last := int32(0)
	if len(prompt) > 0 {
		last = prompt[len(prompt)-1]
	}
	return b.logitsFor(last), nil
}

func (b *Backend) Forward(ctx context.Context, token int32) ([]float32, error) {
	b.mu.Lock()
	b.kvCacheSize++
	b.mu.Unlock()
	return b.logitsFor(token), nil
}

func (b *Backend) logitsFor(token int32) []float32 {
	vocab := b.hdr.VocabSize
	logits := make([]float32, vocab)
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(token), byte(token >> 8), byte(token >> 16), byte(token >> 24)})
	peak := int(h.Sum32()) % vocab
	if peak < 0 {
		peak += vocab
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

func (b *Backend) SupportsLoRA() bool { return b.Identity().SupportsLoRA }

func (b *Backend) RebuildWithLoRA(ctx context.Context, adapterPaths []string) (int, int, error) {
	if len(adapterPaths) == 0 {
		return 0, 0, b.ReloadBase(ctx)
	}
	if !b.SupportsLoRA() {
		return 0, 0, fmt.Errorf("safetensorsbackend: architecture %q has no LoRA name mapping", b.hdr.Architecture)
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
	b.hdr = nil
	return nil
}
