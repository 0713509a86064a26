// Package local implements the in-process Local adapter that wraps the
// model backend (C1-C3). Its model is loaded lazily on first generation to
// keep startup fast, and when a request carries an active-adapter list it
// ensures exactly that set is loaded (rebuilding the model once) and
// records the applied adapters in RoutingInfo.
package local

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/cambriantech/continuum-core/internal/inference"
	"github.com/cambriantech/continuum-core/internal/providers"
)

// Config configures the Local adapter.
type Config struct {
	DefaultModel string
	MaxTokens    int
	Seed         int64
}

// Adapter is the Local (in-process model backend) provider adapter. It has
// no wire format: requests never leave the process.
type Adapter struct {
	cfg     Config
	backend inference.Backend
	pool    *inference.WorkerPool

	mu             sync.Mutex
	activeAdapters []string
}

var _ providers.Adapter = (*Adapter)(nil)

// New wraps an already-constructed backend (a ggufbackend.Backend or
// safetensorsbackend.Backend) as a provider adapter.
func New(backend inference.Backend, cfg Config) *Adapter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Adapter{cfg: cfg, backend: backend, pool: inference.NewWorkerPool(1)}
}

func (a *Adapter) ID() string         { return "local" }
func (a *Adapter) DisplayName() string { return "Local" }
func (a *Adapter) Capabilities() providers.Capabilities {
	identity := a.backend.Identity()
	return providers.Capabilities{
		Text: true, Chat: true, IsLocal: true,
		MaxContextWindow: identity.ContextLength,
	}
}
func (a *Adapter) APIStyle() providers.APIStyle     { return providers.APIStyleLocal }
func (a *Adapter) DefaultModel() string             { return a.cfg.DefaultModel }
func (a *Adapter) SupportedModelPrefixes() []string { return nil }

// Initialize is a no-op: the backend loads lazily on first GenerateText so
// that process startup does not pay the mmap/metadata-parse cost up front.
func (a *Adapter) Initialize(ctx context.Context) error { return nil }

func (a *Adapter) Shutdown(ctx context.Context) error {
	return a.backend.Shutdown(ctx)
}

// GenerateText renders the normalized request into a single prompt string
// (the backend has no concept of chat roles) and runs the shared Generate
// loop. If the request's active-adapter list differs from what is currently
// merged, it ensures that exact set is loaded first.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.TextGenerationRequest) (*providers.TextGenerationResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}

	release, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.ensureAdapters(ctx, req.ActiveAdapters); err != nil {
		return nil, err
	}

	temperature := 1.0
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	result, err := inference.Generate(ctx, a.backend, inference.Request{
		Prompt:      renderPrompt(req),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Seed:        a.cfg.Seed,
	})
	if err != nil {
		return nil, providers.NewAdapterError("local", req.Model, err)
	}

	return &providers.TextGenerationResponse{
		Text:         result.Text,
		StopReason:   mapFinishReason(result.FinishReason),
		OutputTokens: result.TokensGenerated,
		Routing: providers.RoutingInfo{
			ProviderID:      "local",
			Model:           a.backend.Identity().ModelID,
			AppliedAdapters: a.currentAdapters(),
		},
	}, nil
}

// ensureAdapters rebuilds the model once if the requested set differs from
// the currently active one, in the requested order.
func (a *Adapter) ensureAdapters(ctx context.Context, requested []string) error {
	a.mu.Lock()
	same := reflect.DeepEqual(a.activeAdapters, requested)
	a.mu.Unlock()
	if same {
		return nil
	}

	if len(requested) == 0 {
		if err := a.backend.ReloadBase(ctx); err != nil {
			return err
		}
	} else {
		if _, _, err := a.backend.RebuildWithLoRA(ctx, requested); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.activeAdapters = requested
	a.mu.Unlock()
	return nil
}

func (a *Adapter) currentAdapters() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.activeAdapters))
	copy(out, a.activeAdapters)
	return out
}

func (a *Adapter) HealthCheck(ctx context.Context) providers.HealthState {
	return providers.HealthOK
}

func (a *Adapter) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{a.backend.Identity().ModelID}, nil
}

func (a *Adapter) ListLoRA(ctx context.Context) ([]providers.LoRAAdapterInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	infos := make([]providers.LoRAAdapterInfo, len(a.activeAdapters))
	for i, path := range a.activeAdapters {
		infos[i] = providers.LoRAAdapterInfo{Name: path, Path: path}
	}
	return infos, nil
}

func (a *Adapter) LoRACapable() bool { return a.backend.Identity().SupportsLoRA }

func renderPrompt(req *providers.TextGenerationRequest) string {
	out := ""
	if req.System != "" {
		out += "system: " + req.System + "\n"
	}
	for _, msg := range req.Messages {
		out += msg.Role + ": " + msg.Content + "\n"
	}
	return out
}

func mapFinishReason(reason inference.FinishReason) providers.StopReason {
	switch reason {
	case inference.FinishEOS:
		return providers.StopReasonEndTurn
	case inference.FinishMaxTokens:
		return providers.StopReasonLength
	case inference.FinishBadLogits, inference.FinishForwardFailed:
		return providers.StopReasonError
	default:
		return providers.StopReasonUnknown
	}
}
