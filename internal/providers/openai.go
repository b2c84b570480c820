package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// OpenAIClient implements Client for dialect B: system prompt as the first
// message, chat-completion SSE streaming, and indexed tool-call deltas.
// Grounded on the teacher's internal/agent/providers/openai.go processStream
// (map[int]*ToolCall accumulation, concatenated raw-JSON arguments).
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds an OpenAIClient from a provider config. It is
// registered with providers.Registry as the Dialect B factory.
func NewOpenAIClient(cfg switchmodels.ProviderConfig) (Client, error) {
	config := openai.DefaultConfig(cfg.Credential)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  firstModel(cfg.Models),
		logger: slog.Default().With("component", "providers.openai", "provider", cfg.ID),
	}, nil
}

// pendingToolCall accumulates one indexed tool-call delta until the stream
// reports it complete.
type pendingToolCall struct {
	id   string
	name string
	args string
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("providers: open stream: %w", err)
	}
	defer stream.Close()

	return c.processStream(ctx, stream, req.Callbacks)
}

// processStream reassembles text and indexed tool-call deltas into a single
// ChatResult, firing Callbacks as each piece completes. Grounded directly on
// the teacher's equivalent function of the same name.
func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, cb Callbacks) (*ChatResult, error) {
	var content string
	var finishReason string
	toolCalls := make(map[int]*pendingToolCall)
	var order []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, &ErrCancelled{Cause: err}
			}
			return nil, fmt.Errorf("providers: recv stream chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			content += choice.Delta.Content
			if cb.OnChunk != nil {
				cb.OnChunk(choice.Delta.Content)
			}
		}

		for _, delta := range choice.Delta.ToolCalls {
			idx := 0
			if delta.Index != nil {
				idx = *delta.Index
			}
			tc, ok := toolCalls[idx]
			if !ok {
				tc = &pendingToolCall{}
				toolCalls[idx] = tc
				order = append(order, idx)
			}
			if delta.ID != "" {
				tc.id = delta.ID
			}
			if delta.Function.Name != "" {
				tc.name = delta.Function.Name
			}
			tc.args += delta.Function.Arguments
		}
	}

	result := &ChatResult{Content: content, FinishReason: finishReason}
	for _, idx := range order {
		tc := toolCalls[idx]
		input, err := normalizeToolArgs(tc.args)
		if err != nil {
			c.logger.Error("dropping malformed tool call arguments", "tool", tc.name, "error", err)
			continue
		}
		call := ToolCall{ID: tc.id, Name: tc.name, Input: input}
		result.ToolCalls = append(result.ToolCalls, call)
		if cb.OnToolCall != nil {
			cb.OnToolCall(call)
		}
	}
	return result, nil
}

func normalizeToolArgs(raw string) (json.RawMessage, error) {
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("malformed tool-call arguments: %w", err)
	}
	return json.RawMessage(raw), nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Content: m.Content}
	switch m.Role {
	case switchmodels.RoleAssistant:
		out.Role = openai.ChatMessageRoleAssistant
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
	case switchmodels.RoleTool:
		out.Role = openai.ChatMessageRoleTool
		out.ToolCallID = m.ToolCallID
	case switchmodels.RoleSystem:
		out.Role = openai.ChatMessageRoleSystem
	default:
		out.Role = openai.ChatMessageRoleUser
	}
	return out
}
