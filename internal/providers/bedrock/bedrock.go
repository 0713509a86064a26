// Package bedrock implements the AWS Bedrock adapter, reached through the
// Converse API so that Anthropic, Titan, Llama, Mistral, and Cohere models
// hosted on Bedrock all speak one normalized request/response shape.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/cambriantech/continuum-core/internal/providers"
)

// Config configures the Bedrock adapter.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// Adapter is the AWS Bedrock provider adapter.
type Adapter struct {
	cfg    Config
	client *bedrockruntime.Client
	base   providers.BaseAdapter
}

var _ providers.Adapter = (*Adapter)(nil)

var modelPrefixes = []string{"anthropic.", "amazon.titan", "meta.llama", "mistral.", "cohere."}

// New configures the AWS SDK client but performs no network calls until
// Initialize or GenerateText.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Adapter{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
		base:   providers.NewBaseAdapter("bedrock", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *Adapter) ID() string         { return "bedrock" }
func (a *Adapter) DisplayName() string { return "AWS Bedrock" }
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Text: true, Chat: true, ToolUse: true, Vision: true, Streaming: true,
		MaxContextWindow: 200000,
	}
}
func (a *Adapter) APIStyle() providers.APIStyle     { return providers.APIStyleOpenAICompatible }
func (a *Adapter) DefaultModel() string             { return a.cfg.DefaultModel }
func (a *Adapter) SupportedModelPrefixes() []string { return modelPrefixes }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.client == nil {
		return errors.New("bedrock: client not initialized")
	}
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// GenerateText uses the non-streaming Converse call; ai/generate returns the
// full response rather than a delta stream, so no event-stream plumbing is
// needed here.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.TextGenerationRequest) (*providers.TextGenerationResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	messages := toBedrockMessages(req.Messages)
	converseReq := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toBedrockToolConfig(req.Tools)
	}

	var out *bedrockruntime.ConverseOutput
	err := a.base.Retry(ctx, providers.IsRetryable, func() error {
		var callErr error
		out, callErr = a.client.Converse(ctx, converseReq)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &providers.TextGenerationResponse{
		StopReason: mapStopReason(out.StopReason),
		Routing:    providers.RoutingInfo{ProviderID: "bedrock", Model: model},
	}
	if out.Usage != nil {
		result.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		result.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	if msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			switch v := block.(type) {
			case *types.ContentBlockMemberText:
				result.Text += v.Value
			case *types.ContentBlockMemberToolUse:
				input, _ := json.Marshal(v.Value.Input)
				result.ToolCalls = append(result.ToolCalls, providers.ToolCall{
					ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: input,
				})
			}
		}
	}
	return result, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) providers.HealthState {
	if a.client == nil {
		return providers.HealthUnreachable
	}
	return providers.HealthOK
}

// AvailableModels queries the Bedrock ListFoundationModels API (cached, see
// discovery.go) rather than returning a hardcoded list, so newly enabled
// foundation models show up without a code change.
func (a *Adapter) AvailableModels(ctx context.Context) ([]string, error) {
	defs, err := DiscoverModels(ctx, &DiscoveryConfig{
		Region:          a.cfg.Region,
		AccessKeyID:     a.cfg.AccessKeyID,
		SecretAccessKey: a.cfg.SecretAccessKey,
		SessionToken:    a.cfg.SessionToken,
	})
	if err != nil {
		return nil, a.wrapError(err, "")
	}
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
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
	msg := strings.ToLower(err.Error())
	wrapped := providers.NewAdapterError("bedrock", model, err)
	switch {
	case strings.Contains(msg, "throttling"), strings.Contains(msg, "toomanyrequests"):
		wrapped.Reason = providers.FailoverRateLimit
	case strings.Contains(msg, "serviceunavailable"):
		wrapped.Reason = providers.FailoverServerError
	}
	return wrapped
}

func toBedrockMessages(messages []providers.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			_ = json.Unmarshal(tc.Input, &input)
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func toBedrockToolConfig(tools []providers.ToolDef) *types.ToolConfiguration {
	specs := make([]types.Tool, len(tools))
	for i, tool := range tools {
		var schema any
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}

func mapStopReason(reason types.StopReason) providers.StopReason {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return providers.StopReasonEndTurn
	case types.StopReasonMaxTokens:
		return providers.StopReasonLength
	case types.StopReasonToolUse:
		return providers.StopReasonToolUse
	default:
		return providers.StopReasonUnknown
	}
}
