// Package openaicompat implements the single translator shared by every
// OpenAI-compatible provider (OpenAI itself, DeepSeek, Groq, Together,
// Fireworks, xAI, and Google's OpenAI-compatible endpoint). Adapters differ
// only in base URL, default model id, and capability flags; all of that
// lives in Config, not in separate code paths.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cambriantech/continuum-core/internal/providers"
	openai "github.com/sashabaranov/go-openai"
)

// Config parameterizes one OpenAI-compatible deployment.
type Config struct {
	ID           string
	DisplayName  string
	BaseURL      string // empty uses the OpenAI default
	APIKey       string
	DefaultModel string
	ModelPrefixes []string
	Capabilities providers.Capabilities
	MaxRetries   int
	RetryDelay   time.Duration
}

// Adapter is one OpenAI-compatible provider instance.
type Adapter struct {
	cfg    Config
	client *openai.Client
	base   providers.BaseAdapter
}

var _ providers.Adapter = (*Adapter)(nil)

// New builds an adapter from cfg. The client is constructed eagerly but
// makes no network calls until Initialize or GenerateText.
func New(cfg Config) *Adapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Adapter{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		base:   providers.NewBaseAdapter(cfg.ID, cfg.MaxRetries, cfg.RetryDelay),
	}
}

func (a *Adapter) ID() string               { return a.cfg.ID }
func (a *Adapter) DisplayName() string       { return a.cfg.DisplayName }
func (a *Adapter) Capabilities() providers.Capabilities { return a.cfg.Capabilities }
func (a *Adapter) APIStyle() providers.APIStyle         { return providers.APIStyleOpenAICompatible }
func (a *Adapter) DefaultModel() string      { return a.cfg.DefaultModel }
func (a *Adapter) SupportedModelPrefixes() []string { return a.cfg.ModelPrefixes }

// Initialize validates that an API key is present; OpenAI-compatible
// endpoints have no separate handshake.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.APIKey == "" {
		return fmt.Errorf("%s: api key not configured", a.cfg.ID)
	}
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// GenerateText issues a non-streaming chat-completions call and normalizes
// the response. Streaming is not exposed at the registry boundary: ai/generate
// returns the full TextGenerationResponse JSON, so the adapter buffers
// internally rather than exposing deltas to the module runtime.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.TextGenerationRequest) (*providers.TextGenerationResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	err := a.base.Retry(ctx, providers.IsRetryable, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewAdapterError(a.cfg.ID, model, errors.New("empty choices"))
	}

	choice := resp.Choices[0]
	out := &providers.TextGenerationResponse{
		Text:         choice.Message.Content,
		StopReason:   mapFinishReason(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Routing:      providers.RoutingInfo{ProviderID: a.cfg.ID, Model: model},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) providers.HealthState {
	if a.cfg.APIKey == "" {
		return providers.HealthUnreachable
	}
	return providers.HealthOK
}

func (a *Adapter) AvailableModels(ctx context.Context) ([]string, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, a.wrapError(err, "")
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (a *Adapter) ListLoRA(ctx context.Context) ([]providers.LoRAAdapterInfo, error) { return nil, nil }
func (a *Adapter) LoRACapable() bool                                                { return false }

func (a *Adapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if providers.IsAdapterError(err) {
		return err
	}
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		wrapped := providers.NewAdapterError(a.cfg.ID, model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			wrapped = wrapped.WithCode(code)
		}
		return wrapped
	}
	return providers.NewAdapterError(a.cfg.ID, model, err)
}

func toOpenAIMessages(req *providers.TextGenerationRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, toUserMessage(msg))
		}
	}
	return result
}

func toUserMessage(msg providers.Message) openai.ChatCompletionMessage {
	hasImages := false
	for _, att := range msg.Attachments {
		if att.Type == "image" {
			hasImages = true
			break
		}
	}
	if !hasImages {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
	}
	for _, att := range msg.Attachments {
		if att.Type != "image" {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: att.URL, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}

func toOpenAITools(tools []providers.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func mapFinishReason(reason openai.FinishReason) providers.StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return providers.StopReasonEndTurn
	case openai.FinishReasonLength:
		return providers.StopReasonLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return providers.StopReasonToolUse
	default:
		return providers.StopReasonUnknown
	}
}
