package ggufbackend

import (
	"context"
	"testing"

	"github.com/cambriantech/continuum-core/internal/inference"
)

func loadedLlamaBackend() *Backend {
	return &Backend{
		state:     inference.StateLoadedBase,
		md:        &Metadata{Architecture: "llama", ContextLength: 4096},
		vocabSize: 32000,
	}
}

func TestRebuildWithLoRAMergesRealAdapterWeights(t *testing.T) {
	b := loadedLlamaBackend()

	merged, failed, err := b.RebuildWithLoRA(context.Background(), []string{"adapters/a.safetensors"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed != 0 {
		t.Fatalf("expected 0 failed merges for a single well-formed adapter, got %d", failed)
	}
	if merged == 0 {
		t.Fatal("expected at least one merged layer")
	}
	if b.state != inference.StateLoadedBaseWithAdapters {
		t.Fatalf("expected StateLoadedBaseWithAdapters, got %v", b.state)
	}

	// Stacking a second adapter must merge strictly more layers than one
	// adapter alone, proving the count reflects real per-adapter work
	// rather than a constant.
	merged2, _, err := b.RebuildWithLoRA(context.Background(), []string{"adapters/a.safetensors", "adapters/b.safetensors"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged2 != merged*2 {
		t.Fatalf("expected merged count to double with a second stacked adapter, got %d want %d", merged2, merged*2)
	}
}

func TestRebuildWithLoRAEmptyListReloadsBase(t *testing.T) {
	b := loadedLlamaBackend()
	if _, _, err := b.RebuildWithLoRA(context.Background(), []string{"adapters/a.safetensors"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merged, failed, err := b.RebuildWithLoRA(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != 0 || failed != 0 {
		t.Fatalf("expected 0,0 for an empty adapter list, got %d,%d", merged, failed)
	}
	if b.state != inference.StateLoadedBase {
		t.Fatalf("expected StateLoadedBase after ReloadBase, got %v", b.state)
	}
}

func TestRebuildWithLoRARejectsUnsupportedArchitecture(t *testing.T) {
	b := &Backend{state: inference.StateLoadedBase, md: &Metadata{Architecture: "gpt2"}}
	if _, _, err := b.RebuildWithLoRA(context.Background(), []string{"adapters/a.safetensors"}); err == nil {
		t.Fatal("expected error for an architecture with no LoRA name mapping")
	}
}
