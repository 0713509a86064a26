// Package genai implements the Google Gemini adapter over
// google.golang.org/genai.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/cambriantech/continuum-core/internal/providers"
	"google.golang.org/genai"
)

// OAuth2Config configures refresh-token based credential exchange for the
// Vertex AI backend, used instead of a static API key when APIKey is empty.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
}

func (c OAuth2Config) empty() bool { return c.RefreshToken == "" }

// Config configures the Gemini adapter.
type Config struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration

	// Project and Location select the Vertex AI project/region; required
	// when OAuth2 is set.
	Project  string
	Location string
	OAuth2   OAuth2Config
}

// Adapter is the Gemini provider adapter.
type Adapter struct {
	cfg    Config
	client *genai.Client
	base   providers.BaseAdapter
}

var _ providers.Adapter = (*Adapter)(nil)

var modelPrefixes = []string{"gemini-"}

// New builds a Gemini adapter. The client is created eagerly; errors are
// deferred to Initialize since NewClient itself is a cheap local construction.
//
// When cfg.APIKey is set, the adapter talks to the public Gemini API. When
// it is empty and cfg.OAuth2 carries a refresh token, the adapter instead
// authenticates to Vertex AI with an oauth2.TokenSource built from the
// refresh token, renewing access tokens transparently on every call that
// needs one.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
	} else if !cfg.OAuth2.empty() {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth2.TokenURL},
		}
		tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.OAuth2.RefreshToken})
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.Project
		clientCfg.Location = cfg.Location
		clientCfg.HTTPClient = oauth2.NewClient(ctx, tokenSource)
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		base:   providers.NewBaseAdapter("genai", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *Adapter) ID() string         { return "genai" }
func (a *Adapter) DisplayName() string { return "Google Gemini" }
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Text: true, Chat: true, ToolUse: true, Vision: true, Streaming: true,
		MaxContextWindow: 1000000,
	}
}
func (a *Adapter) APIStyle() providers.APIStyle     { return providers.APIStyleGenAI }
func (a *Adapter) DefaultModel() string             { return a.cfg.DefaultModel }
func (a *Adapter) SupportedModelPrefixes() []string { return modelPrefixes }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.APIKey == "" && a.cfg.OAuth2.empty() {
		return errors.New("genai: neither api key nor oauth2 refresh token configured")
	}
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// GenerateText issues a non-streaming GenerateContent call and normalizes
// the response.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.TextGenerationRequest) (*providers.TextGenerationResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	contents := toGenaiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toGenaiTools(req.Tools)
	}

	var resp *genai.GenerateContentResponse
	err := a.base.Retry(ctx, providers.IsRetryable, func() error {
		var callErr error
		resp, callErr = a.client.Models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return providers.NewAdapterError("genai", model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, providers.NewAdapterError("genai", model, errors.New("empty candidates"))
	}

	out := &providers.TextGenerationResponse{
		StopReason: mapFinishReason(resp.Candidates[0].FinishReason),
		Routing:    providers.RoutingInfo{ProviderID: "genai", Model: model},
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out.Text += part.Text
			}
			if part.FunctionCall != nil {
				input, _ := json.Marshal(part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
					ID:    part.FunctionCall.Name,
					Name:  part.FunctionCall.Name,
					Input: input,
				})
			}
		}
	}
	return out, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) providers.HealthState {
	if a.cfg.APIKey == "" && a.cfg.OAuth2.empty() {
		return providers.HealthUnreachable
	}
	return providers.HealthOK
}

func (a *Adapter) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{"gemini-2.0-flash", "gemini-2.0-pro", "gemini-1.5-flash"}, nil
}

func (a *Adapter) ListLoRA(ctx context.Context) ([]providers.LoRAAdapterInfo, error) { return nil, nil }
func (a *Adapter) LoRACapable() bool                                                { return false }

func toGenaiContents(messages []providers.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			parts = append(parts, genai.NewPartFromFunctionResponse(tr.ToolCallID, map[string]any{"content": tr.Content}))
		}
		if len(parts) == 0 {
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}
	return result
}

func toGenaiTools(tools []providers.ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func mapFinishReason(reason genai.FinishReason) providers.StopReason {
	switch reason {
	case genai.FinishReasonStop:
		return providers.StopReasonEndTurn
	case genai.FinishReasonMaxTokens:
		return providers.StopReasonLength
	default:
		return providers.StopReasonUnknown
	}
}
