package llm

import "time"

// GenerationResult is the final outcome of a generation: all rounds'
// accumulated output plus accounting. Exactly one result is produced per
// generation that finishes without error.
type GenerationResult struct {
	// Content and Reasoning are the accumulated assistant text across rounds.
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`

	// ToolCalls are the completed calls from the final round, ordered by
	// ascending fragment index.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FinishReason is the last round's finish reason.
	FinishReason FinishReason `json:"finish_reason,omitempty"`

	// Usage is token accounting summed over all rounds.
	Usage Usage `json:"usage"`

	// Rounds is the number of provider round trips performed.
	Rounds int `json:"rounds"`

	// FirstTokenLatency and Duration are the last round's timing numbers.
	FirstTokenLatency time.Duration `json:"first_token_latency_ns"`
	Duration          time.Duration `json:"duration_ns"`
}
