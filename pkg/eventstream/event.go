// Package eventstream defines transport-neutral event payloads emitted after
// a generation completes, and the Publisher contract backends implement.
package eventstream

import (
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeGenerationCompleted is emitted after a generation finishes
	// naturally. Cancelled generations do not emit events.
	EventTypeGenerationCompleted = "spool.generation.completed"
)

// GenerationCompletedEvent is a transport-neutral event payload for a
// completed generation.
type GenerationCompletedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Generation    Generation  `json:"generation"`
}

// EventSource identifies where the generation ran.
type EventSource struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Generation captures outcome metadata for the completed generation.
type Generation struct {
	GenerationID      string           `json:"generation_id"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	Rounds            int              `json:"rounds"`
	FinishReason      llm.FinishReason `json:"finish_reason"`
	ToolCalls         int              `json:"tool_calls"`
	Usage             llm.Usage        `json:"usage"`
	FirstTokenLatency int64            `json:"first_token_latency_ms"`
	DurationMs        int64            `json:"duration_ms"`
}
