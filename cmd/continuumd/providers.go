package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cambriantech/continuum-core/internal/config"
	"github.com/cambriantech/continuum-core/internal/observability"
	"github.com/cambriantech/continuum-core/internal/providers"
	"github.com/cambriantech/continuum-core/internal/providers/anthropic"
	"github.com/cambriantech/continuum-core/internal/providers/genai"
	"github.com/cambriantech/continuum-core/internal/providers/openaicompat"
)

// buildProviderRegistry registers every configured LLM provider into a fresh
// providers.Registry, following the teacher's provider-adapter-and-registry
// design: one adapter per configured entry, priority following declaration
// order in llm.providers, then InitializeAll builds the available set.
func buildProviderRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) *providers.Registry {
	reg := providers.NewRegistry(logger)
	priority := 0
	for id, pc := range cfg.LLM.Providers {
		priority++
		switch {
		case strings.EqualFold(id, "anthropic"):
			reg.Register(anthropic.New(anthropic.Config{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
			}), priority)
		case strings.EqualFold(id, "genai") || strings.EqualFold(id, "gemini") || strings.EqualFold(id, "google"):
			adapter, err := genai.New(ctx, genai.Config{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
				Project:      pc.Project,
				Location:     pc.Location,
				OAuth2: genai.OAuth2Config{
					ClientID:     pc.OAuth2.ClientID,
					ClientSecret: pc.OAuth2.ClientSecret,
					TokenURL:     pc.OAuth2.TokenURL,
					RefreshToken: pc.OAuth2.RefreshToken,
				},
			})
			if err != nil {
				logger.Warn("genai provider not registered", "provider", id, "error", err)
				continue
			}
			reg.Register(adapter, priority)
		default:
			reg.Register(openaicompat.New(openaicompat.Config{
				ID:            id,
				DisplayName:   id,
				BaseURL:       pc.BaseURL,
				APIKey:        pc.APIKey,
				DefaultModel:  pc.DefaultModel,
				ModelPrefixes: []string{pc.DefaultModel},
			}), priority)
		}
	}
	reg.InitializeAll(ctx)
	return reg
}

// llmCaller adapts a providers.Registry into pipeline.LLMCaller, so pipeline
// LLM steps go through the same provider-selection path as every other AI
// caller in the process rather than reimplementing it. Every call is
// recorded on metrics, the same Prometheus vectors the teacher's gateway
// used for its own LLM request path.
type llmCaller struct {
	registry        *providers.Registry
	metrics         *observability.Metrics
	defaultProvider string
	defaultModel    string
}

func newLLMCaller(registry *providers.Registry, cfg *config.Config, metrics *observability.Metrics) *llmCaller {
	return &llmCaller{
		registry:        registry,
		metrics:         metrics,
		defaultProvider: cfg.LLM.DefaultProvider,
		defaultModel:    providerDefaultModel(cfg),
	}
}

func providerDefaultModel(cfg *config.Config) string {
	if pc, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok {
		return pc.DefaultModel
	}
	return ""
}

func (c *llmCaller) Generate(ctx context.Context, prompt string) (string, error) {
	providerID, adapter, err := c.registry.Select(c.defaultProvider, c.defaultModel)
	if err != nil {
		c.metrics.RecordError("pipeline.llm", "select")
		return "", err
	}

	started := time.Now()
	resp, err := adapter.GenerateText(ctx, &providers.TextGenerationRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Model:    c.defaultModel,
		Provider: providerID,
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	promptTokens, completionTokens := 0, 0
	if resp != nil {
		promptTokens, completionTokens = resp.InputTokens, resp.OutputTokens
	}
	c.metrics.RecordLLMRequest(providerID, c.defaultModel, status, time.Since(started).Seconds(), promptTokens, completionTokens)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
