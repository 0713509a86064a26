// Package embeddings defines the embedding provider contract used by the
// memory engine's semantic and cross-context recall layers, adapted from
// haasonsaas-nexus's internal/memory/embeddings package.
package embeddings

import "context"

// Provider generates vector embeddings for recall text. Dimension is fixed
// per provider instance; a Corpus loaded against one provider cannot be
// queried against another without reloading.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	MaxBatchSize() int
}

// Stub is a deterministic single-dimension embedding provider used in tests
// and as the default when no provider is configured, matching spec.md's
// "default deterministic stub exists for tests" requirement.
type Stub struct{}

var _ Provider = Stub{}

func (Stub) Name() string      { return "stub" }
func (Stub) Dimension() int    { return 1 }
func (Stub) MaxBatchSize() int { return 1 << 20 }

func (Stub) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (s Stub) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
