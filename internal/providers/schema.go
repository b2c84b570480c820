package providers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateToolSchema compiles a tool's declared parameter schema and
// validates a candidate arguments payload against it. Used by the Tool
// Registry before a schema is handed to a Client, and by callers that want
// to reject malformed tool-call arguments before execution rather than
// surfacing a runtime panic deep in a tool implementation.
func ValidateToolSchema(schema ToolSchema, arguments json.RawMessage) error {
	if len(schema.Parameters) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resource = "tool-schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(schema.Parameters)); err != nil {
		return fmt.Errorf("providers: add schema resource for tool %q: %w", schema.Name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("providers: compile schema for tool %q: %w", schema.Name, err)
	}

	var value any
	if err := json.Unmarshal(arguments, &value); err != nil {
		return fmt.Errorf("providers: tool %q arguments are not valid JSON: %w", schema.Name, err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("providers: tool %q arguments failed schema validation: %w", schema.Name, err)
	}
	return nil
}
