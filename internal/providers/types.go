// Package providers implements the Provider Registry and Model Client
// (spec.md §4.3): resolving a model name to an endpoint/credential/dialect,
// and streaming one turn of chat+tools against either of two wire dialects
// behind a single callback surface.
package providers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// Message is one entry in the conversation sent to a Client.Chat call.
type Message struct {
	Role       switchmodels.Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a fully (or partially, mid-stream) assembled tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Callbacks is the dialect-agnostic streaming surface every Client
// implementation must drive identically regardless of wire dialect.
type Callbacks struct {
	// OnChunk fires for every appended text fragment.
	OnChunk func(text string)
	// OnToolCall fires once per tool call, only once it is fully assembled
	// (argument JSON may have arrived piecewise and is already concatenated
	// and parsed by the time this fires).
	OnToolCall func(call ToolCall)
}

// ChatRequest is one turn's input to a Client.
type ChatRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSchema
	Callbacks Callbacks
}

// ChatResult aggregates everything produced by one Client.Chat call.
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// ErrCancelled is returned when ctx is cancelled mid-stream, distinct from
// other transport errors per spec.md §4.3.
type ErrCancelled struct{ Cause error }

func (e *ErrCancelled) Error() string { return "providers: request cancelled: " + e.Cause.Error() }
func (e *ErrCancelled) Unwrap() error { return e.Cause }

// StatusError is returned for any non-success response from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "providers: non-success response (status " + strconv.Itoa(e.StatusCode) + "): " + e.Body
}

// Client streams one turn of chat+tools against a model endpoint.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}
