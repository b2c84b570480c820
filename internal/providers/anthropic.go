package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// AnthropicConfig configures a dialect-A client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AnthropicClient implements Client for dialect A: a separate system
// field, SSE streaming, and tool_use content blocks. Grounded on the
// teacher's internal/agent/providers/anthropic.go (SSE streaming, tool
// calling, content-block accumulation).
type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicClient builds an AnthropicClient from a provider config. It
// is registered with providers.Registry as the Dialect A factory.
func NewAnthropicClient(cfg switchmodels.ProviderConfig) (Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Credential)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  firstModel(cfg.Models),
		logger: slog.Default().With("component", "providers.anthropic", "provider", cfg.ID),
	}, nil
}

func firstModel(models []string) string {
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: json.RawMessage(t.Parameters),
				},
			},
		})
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("providers: accumulate anthropic stream event: %w", err)
		}
		if delta := event.Delta.Text; delta != "" && req.Callbacks.OnChunk != nil {
			req.Callbacks.OnChunk(delta)
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &ErrCancelled{Cause: err}
		}
		return nil, fmt.Errorf("providers: anthropic stream: %w", err)
	}

	result := &ChatResult{FinishReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += b.Text
		case anthropic.ToolUseBlock:
			call := ToolCall{ID: b.ID, Name: b.Name, Input: json.RawMessage(b.Input)}
			result.ToolCalls = append(result.ToolCalls, call)
			if req.Callbacks.OnToolCall != nil {
				req.Callbacks.OnToolCall(call)
			}
		}
	}
	return result, nil
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	switch m.Role {
	case switchmodels.RoleAssistant:
		blocks := []anthropic.ContentBlockParamUnion{}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case switchmodels.RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
	}
}
