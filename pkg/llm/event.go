package llm

// EventType discriminates the normalized stream event variants.
type EventType string

const (
	// EventContent carries an incremental piece of assistant text.
	EventContent EventType = "content"

	// EventReasoning carries an incremental piece of assistant thinking text.
	EventReasoning EventType = "reasoning"

	// EventToolCall carries a tool-call fragment. A fragment may hold the
	// full call (id+name+arguments in one event) or any incremental subset;
	// fragments sharing an Index belong to the same call.
	EventToolCall EventType = "tool_call"

	// EventFinish carries the round's finish reason.
	EventFinish EventType = "finish"

	// EventUsage carries token accounting, typically near end of stream.
	EventUsage EventType = "usage"
)

// FinishReason is the normalized reason a round stopped.
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishToolUse FinishReason = "tool_use"
)

// ToolUse reports whether the finish reason signals tool invocation.
func (f FinishReason) ToolUse() bool {
	return f == FinishToolUse
}

// StreamEvent is one normalized event from a provider stream. Type selects
// which of the remaining fields is populated.
type StreamEvent struct {
	Type EventType

	// Text is the delta for EventContent and EventReasoning.
	Text string

	// ToolCall is set for EventToolCall.
	ToolCall *ToolCallFragment

	// Finish is set for EventFinish.
	Finish FinishReason

	// Usage is set for EventUsage.
	Usage *Usage
}

// ToolCallFragment is a partial, incrementally-delivered piece of a tool
// call. ID and Name may be absent on later fragments for the same Index;
// Arguments fragments concatenate in arrival order.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ContentEvent builds an EventContent stream event.
func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Text: text}
}

// ReasoningEvent builds an EventReasoning stream event.
func ReasoningEvent(text string) StreamEvent {
	return StreamEvent{Type: EventReasoning, Text: text}
}

// ToolCallEvent builds an EventToolCall stream event.
func ToolCallEvent(frag ToolCallFragment) StreamEvent {
	return StreamEvent{Type: EventToolCall, ToolCall: &frag}
}

// FinishEvent builds an EventFinish stream event.
func FinishEvent(reason FinishReason) StreamEvent {
	return StreamEvent{Type: EventFinish, Finish: reason}
}

// UsageEvent builds an EventUsage stream event.
func UsageEvent(u Usage) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &u}
}
