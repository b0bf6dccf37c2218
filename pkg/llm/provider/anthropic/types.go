package anthropic

import "encoding/json"

// messageRequest is Anthropic's streaming Messages API request format.
// The system prompt is a top-level field, not a message.
type messageRequest struct {
	Model      string         `json:"model"`
	MaxTokens  int            `json:"max_tokens"`
	System     string         `json:"system,omitempty"`
	Messages   []wireMessage  `json:"messages"`
	Tools      []toolDef      `json:"tools,omitempty"`
	ToolChoice map[string]any `json:"tool_choice,omitempty"`
	Stream     bool           `json:"stream"`
}

// wireMessage is a message in Anthropic's format. Only "user" and
// "assistant" roles exist on the wire; tool results travel as user-role
// tool_result content blocks.
type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is a single content block. Type selects the populated fields.
type contentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *imageSource `json:"source,omitempty"`

	// tool_use (assistant issuing a call)
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result (user answering a call)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// toolDef is a tool definition in Anthropic's format.
type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// streamEvent is the envelope for Anthropic's typed SSE events. Fields are
// a union across event types; Type discriminates.
type streamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *struct {
		Usage *wireUsage `json:"usage"`
	} `json:"message"`

	// content_block_start / content_block_delta / content_block_stop
	Index        int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		// content_block_delta: text_delta | thinking_delta | input_json_delta
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`

		// message_delta
		StopReason string `json:"stop_reason"`
	} `json:"delta"`

	// message_delta
	Usage *wireUsage `json:"usage"`

	// error
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
