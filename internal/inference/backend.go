// Package inference defines the model backend contract (C1), the unified
// text generation loop built on top of it (C2), and the logit sanitizer and
// worker pool shared by every backend implementation.
package inference

import "context"

// Format identifies the on-disk weight format a backend was loaded from.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatSafetensors Format = "safetensors"
)

// Device identifies the compute device a backend is bound to.
type Device string

const (
	DeviceCPU    Device = "cpu"
	DeviceCUDA   Device = "cuda"
	DeviceMetal  Device = "metal"
)

// State is the backend instance's lazy-load/adapter lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoadedBase
	StateLoadedBaseWithAdapters
)

// Identity is the static identity/capability block every backend reports.
type Identity struct {
	ModelID        string
	Architecture   string
	ContextLength  int
	EOSTokenIDs    []int32
	Format         Format
	Device         Device
	SupportsLoRA   bool
}

// Tokens is a sequence of token ids, the common currency between tokenize,
// prefill, forward, and decode.
type Tokens []int32

// Backend is the contract every model backend (GGUF, safetensors, ...)
// implements. Forward/Prefill return raw, unsanitized logits for the last
// position; Generate (see generate.go) is the only caller that should invoke
// them directly, since it owns sanitization and the decode loop's retry
// bookkeeping.
type Backend interface {
	Identity() Identity
	State() State

	Tokenize(ctx context.Context, text string) (Tokens, error)
	Decode(ctx context.Context, tokens Tokens) (string, error)

	// Prefill processes the full prompt and returns logits for the next token.
	Prefill(ctx context.Context, prompt Tokens) ([]float32, error)
	// Forward advances one step given the token just sampled, returning
	// logits for the next token.
	Forward(ctx context.Context, token int32) ([]float32, error)
	// ClearCache discards any KV cache / incremental decode state, forcing
	// the next Prefill to start from scratch.
	ClearCache(ctx context.Context) error
	// Sync blocks until any queued device work (GPU) has completed. A no-op
	// for CPU-only backends.
	Sync(ctx context.Context) error

	// SupportsLoRA reports whether RebuildWithLoRA is implemented for this
	// backend's architecture (see inference/lora for the name-mapping table).
	SupportsLoRA() bool
	// RebuildWithLoRA merges the named adapters (in order) into the base
	// weights and rebuilds the model object. Calling with an empty list is
	// equivalent to ReloadBase.
	RebuildWithLoRA(ctx context.Context, adapterPaths []string) (merged, failed int, err error)
	// ReloadBase discards any merged object and re-mmaps the original base
	// weights, returning the backend to StateLoadedBase.
	ReloadBase(ctx context.Context) error

	Shutdown(ctx context.Context) error
}
