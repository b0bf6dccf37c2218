package llm

// Usage contains token counts for a round or a whole generation.
// Anthropic reports prompt tokens at message_start and completion tokens at
// message_delta; OpenAI reports both on the final chunk. Accumulate with Add.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add folds another usage report into u, keeping TotalTokens consistent.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}
