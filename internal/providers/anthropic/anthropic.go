// Package anthropic implements the Anthropic Messages API adapter. Its wire
// format differs from the OpenAI-compatible family on several points: the
// system prompt is a separate field, content blocks are typed objects, tool
// definitions use input_schema, and authentication is an x-api-key header
// with a version header rather than Bearer auth.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cambriantech/continuum-core/internal/providers"
)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Adapter is the Anthropic Messages API provider adapter.
type Adapter struct {
	cfg    Config
	client anthropicsdk.Client
	base   providers.BaseAdapter
}

var _ providers.Adapter = (*Adapter)(nil)

// ModelPrefixes lists the model-id prefixes routed to this adapter by the
// registry's preferred-model fallback rule.
var ModelPrefixes = []string{"claude-"}

// New builds an Anthropic adapter. The SDK client performs no network I/O
// until the first request.
func New(cfg Config) *Adapter {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	return &Adapter{
		cfg:    cfg,
		client: anthropicsdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		base:   providers.NewBaseAdapter("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}
}

func (a *Adapter) ID() string         { return "anthropic" }
func (a *Adapter) DisplayName() string { return "Anthropic" }
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Text: true, Chat: true, ToolUse: true, Vision: true, Streaming: true,
		MaxContextWindow: 200000,
	}
}
func (a *Adapter) APIStyle() providers.APIStyle         { return providers.APIStyleAnthropic }
func (a *Adapter) DefaultModel() string                 { return a.cfg.DefaultModel }
func (a *Adapter) SupportedModelPrefixes() []string     { return ModelPrefixes }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.APIKey == "" {
		return errors.New("anthropic: api key not configured")
	}
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// GenerateText sends a non-streaming Messages request and normalizes the
// response, including the billing/rate-limit -> InsufficientFunds health
// mapping documented for this adapter.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.TextGenerationRequest) (*providers.TextGenerationResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	var msg *anthropicsdk.Message
	err := a.base.Retry(ctx, providers.IsRetryable, func() error {
		var callErr error
		msg, callErr = a.client.Messages.New(ctx, params)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &providers.TextGenerationResponse{
		StopReason:   mapStopReason(string(msg.StopReason)),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Routing:      providers.RoutingInfo{ProviderID: a.ID(), Model: model},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			out.Text += variant.Text
		case anthropicsdk.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
				ID: variant.ID, Name: variant.Name, Input: input,
			})
		}
	}
	return out, nil
}

// HealthCheck reports InsufficientFunds-equivalent degradation via the
// registry's health state, though the adapter itself only knows
// authentication presence until a real request surfaces billing/rate-limit
// codes (handled in wrapError -> ClassifyError -> FailoverBilling/RateLimit).
func (a *Adapter) HealthCheck(ctx context.Context) providers.HealthState {
	if a.cfg.APIKey == "" {
		return providers.HealthUnreachable
	}
	return providers.HealthOK
}

func (a *Adapter) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"claude-3-5-haiku-20241022",
	}, nil
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
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		reason := providers.ClassifyError(err)
		wrapped := providers.NewAdapterError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		if apiErr.StatusCode == 402 || apiErr.StatusCode == 429 {
			reason = providers.FailoverBilling
		}
		wrapped.Reason = reason
		return wrapped
	}
	return providers.NewAdapterError("anthropic", model, err)
}

func toAnthropicMessages(messages []providers.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Input, &input)
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		case "tool":
			blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			result = append(result, anthropicsdk.NewUserMessage(blocks...))
		default:
			blocks := []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(msg.Content)}
			for _, att := range msg.Attachments {
				if att.Type != "image" {
					continue
				}
				blocks = append(blocks, anthropicsdk.NewImageBlock(anthropicsdk.NewImageBlockParamSourceUnion(
					anthropicsdk.URLImageSourceParam{URL: att.URL},
				)))
			}
			result = append(result, anthropicsdk.NewUserMessage(blocks...))
		}
	}
	return result
}

func toAnthropicTools(tools []providers.ToolDef) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var schema anthropicsdk.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			var props map[string]any
			if err := json.Unmarshal(tool.InputSchema, &props); err == nil {
				schema.Properties = props
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: schema,
			},
		}
	}
	return result
}

func mapStopReason(reason string) providers.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return providers.StopReasonEndTurn
	case "max_tokens":
		return providers.StopReasonLength
	case "tool_use":
		return providers.StopReasonToolUse
	default:
		return providers.StopReasonUnknown
	}
}
