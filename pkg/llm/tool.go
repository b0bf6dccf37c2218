package llm

import "encoding/json"

// ToolDefinition describes a tool the model may invoke. Parameters is an
// opaque JSON-schema-like structure passed through to the provider verbatim.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a model-issued request to invoke a named tool. Arguments is
// JSON text, possibly assembled incrementally from stream fragments.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
