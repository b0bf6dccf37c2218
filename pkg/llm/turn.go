// Package llm defines the provider-agnostic data model for streaming chat
// completions: conversation turns, tool calls, normalized stream events, and
// generation results. Provider-specific wire formats are parsed into these
// types at the boundary (see pkg/llm/provider) so nothing loosely typed
// crosses into the orchestrator.
package llm

// Roles for conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn represents a single message-like unit in a conversation.
type Turn struct {
	Role string `json:"role"`

	// Content is the turn's text content.
	Content string `json:"content"`

	// Reasoning is assistant thinking text, kept separate from Content.
	// Never sent back to providers; retained for display and results.
	Reasoning string `json:"reasoning,omitempty"`

	// ImageBase64 and ImageMediaType carry an optional inline image payload.
	ImageBase64    string `json:"image_base64,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`

	// ToolCallID links a tool-result turn (Role == "tool") back to the
	// assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls holds the calls issued by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Err marks the turn as an error turn. Error turns are kept in local
	// history for display but are never serialized into provider requests.
	Err string `json:"error,omitempty"`
}

// NewTextTurn creates a plain text turn with the given role.
func NewTextTurn(role, content string) Turn {
	return Turn{Role: role, Content: content}
}

// IsError reports whether the turn is an error turn.
func (t *Turn) IsError() bool {
	return t.Err != ""
}

// RequestHistory filters turns down to those eligible for a provider
// request. Error turns are excluded: they were never produced by the model
// and must not be resent as context.
func RequestHistory(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.IsError() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DropTrailing removes the trailing assistant-produced run from the history:
// any error turns, assistant turns, and their tool-result turns that follow
// the last user turn. It is the pure transform behind "retry": callers drop
// the tail and start a fresh generation rather than flipping a special mode
// inside the loop.
func DropTrailing(turns []Turn) []Turn {
	i := len(turns)
	for i > 0 {
		t := turns[i-1]
		if t.Role == RoleAssistant || t.Role == RoleTool || t.IsError() {
			i--
			continue
		}
		break
	}
	return turns[:i]
}
