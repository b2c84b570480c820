// Package tools implements the Tool Registry (spec.md §4 Tool Registry):
// named callable units with a declared schema, filterable by caller role,
// plus the ToolContext/GatewayRef capability a tool receives when executed.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownTool is returned by Execute when name is not registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// MaxInputSize bounds a single tool call's argument payload, mirroring the
// teacher's agent.ToolRegistry guard against runaway tool input.
const MaxInputSize = 10 << 20 // 10 MiB

// Tool is one named, schema-declared callable unit.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the tool's JSON Schema for its input, used both to
	// advertise the tool to a model and to validate arguments before Execute.
	Schema() json.RawMessage
	// SubagentSafe reports whether this tool may be offered to a subagent
	// runner. The spawn-subagent tool itself MUST return false.
	SubagentSafe() bool
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry is a thread-safe name->Tool map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, unordered.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// FilterForCaller returns the tools a caller may use, given an explicit
// allow-list (nil/empty means "all tools") and whether the caller is a
// subagent runner — subagent runners MUST NOT be offered subagent-unsafe
// tools, per spec.md §4.4 step 3.
func (r *Registry) FilterForCaller(allowList []string, isSubagent bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed map[string]bool
	if len(allowList) > 0 {
		allowed = make(map[string]bool, len(allowList))
		for _, name := range allowList {
			allowed[name] = true
		}
	}

	out := make([]Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if allowed != nil && !allowed[name] {
			continue
		}
		if isSubagent && !t.SubagentSafe() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Execute looks up and runs a tool by name, rejecting oversized input
// before the tool ever sees it.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	if len(input) > MaxInputSize {
		return "", fmt.Errorf("tools: input for %q exceeds %d bytes", name, MaxInputSize)
	}
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, input)
}
