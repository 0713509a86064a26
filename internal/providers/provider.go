// Package providers defines the normalized provider-adapter contract (C4) and
// the capability-aware, priority-ordered registry over them (C5).
package providers

import (
	"context"
	"encoding/json"
)

// APIStyle tags the wire format a provider adapter speaks.
type APIStyle string

const (
	APIStyleOpenAICompatible APIStyle = "openai-compatible"
	APIStyleAnthropic        APIStyle = "anthropic"
	APIStyleLocal            APIStyle = "local"
	APIStyleGenAI            APIStyle = "genai"
)

// Capabilities are the flags a caller checks before routing a request to an adapter.
type Capabilities struct {
	Text             bool
	Chat             bool
	ToolUse          bool
	Vision           bool
	Streaming        bool
	Embeddings       bool
	Audio            bool
	ImageGeneration  bool
	IsLocal          bool
	MaxContextWindow int
}

// Message is one normalized chat turn.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ToolDef is a normalized tool/function declaration.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolCall is a normalized tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is a normalized tool execution result fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Attachment is an out-of-band payload (image, audio) referenced by a message.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// StopReason normalizes provider-specific completion reasons.
type StopReason string

const (
	StopReasonEndTurn  StopReason = "end_turn"
	StopReasonLength   StopReason = "length"
	StopReasonToolUse  StopReason = "tool_use"
	StopReasonError    StopReason = "error"
	StopReasonUnknown  StopReason = "unknown"
)

// TextGenerationRequest is the normalized request shape accepted by ai/generate.
type TextGenerationRequest struct {
	Messages       []Message `json:"messages"`
	System         string    `json:"system,omitempty"`
	Model          string    `json:"model,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Tools          []ToolDef `json:"tools,omitempty"`
	ActiveAdapters []string  `json:"active_adapters,omitempty"`
}

// RoutingInfo records which adapter actually served a request, for observability
// and for the local adapter to report which LoRA adapters were applied.
type RoutingInfo struct {
	ProviderID      string   `json:"provider_id"`
	Model           string   `json:"model"`
	AppliedAdapters []string `json:"applied_adapters,omitempty"`
}

// TextGenerationResponse is the normalized response returned by ai/generate.
type TextGenerationResponse struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	StopReason   StopReason  `json:"stop_reason"`
	InputTokens  int         `json:"input_tokens,omitempty"`
	OutputTokens int         `json:"output_tokens,omitempty"`
	Routing      RoutingInfo `json:"routing"`
}

// HealthState is the per-provider health surfaced by ai/providers/health.
type HealthState string

const (
	HealthOK               HealthState = "ok"
	HealthDegraded         HealthState = "degraded"
	HealthInsufficientFunds HealthState = "insufficient_funds"
	HealthUnreachable      HealthState = "unreachable"
)

// LoRAAdapterInfo describes one loadable LoRA adapter a provider knows about.
type LoRAAdapterInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Adapter is the contract every provider implementation satisfies. Local is
// the only adapter for which IsLocal() is true and which meaningfully
// implements the LoRA management methods; cloud adapters return empty/no-op
// results for them rather than an error, matching the optional "if
// applicable" language of the provider adapter contract.
type Adapter interface {
	ID() string
	DisplayName() string
	Capabilities() Capabilities
	APIStyle() APIStyle
	DefaultModel() string
	SupportedModelPrefixes() []string

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	GenerateText(ctx context.Context, req *TextGenerationRequest) (*TextGenerationResponse, error)
	HealthCheck(ctx context.Context) HealthState
	AvailableModels(ctx context.Context) ([]string, error)

	ListLoRA(ctx context.Context) ([]LoRAAdapterInfo, error)
	LoRACapable() bool
}
