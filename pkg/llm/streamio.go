package llm

import (
	"context"
	"io"
)

// Stream is a lazy, single-pass, non-restartable sequence of normalized
// stream events. Recv blocks until the next event is available and returns
// io.EOF once the provider signals end of stream. Close aborts the
// underlying transport; it is safe to call Close after EOF and more than
// once.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// RoundRequest describes one provider round trip: ordered turns, the tool
// surface, and generation parameters. Error turns must be filtered out by
// the caller (see RequestHistory) before the request reaches an adapter.
type RoundRequest struct {
	Model string
	Turns []Turn
	Tools []ToolDefinition

	// ForceTool pins tool choice to the named tool for this round.
	// Empty means the model chooses freely.
	ForceTool string

	// MaxTokens caps completion length. Zero lets the adapter pick its
	// provider default.
	MaxTokens int
}

// SliceStream adapts a fixed event slice into a Stream. Used by tests and
// by components that replay already-normalized events.
type SliceStream struct {
	events []StreamEvent
	pos    int
	closed bool
}

// NewSliceStream returns a Stream yielding the given events in order.
func NewSliceStream(events ...StreamEvent) *SliceStream {
	return &SliceStream{events: events}
}

func (s *SliceStream) Recv() (StreamEvent, error) {
	if s.closed || s.pos >= len(s.events) {
		return StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// DrainStream consumes a stream to completion, honoring ctx between events.
// Mostly a test helper; the orchestrator has its own consumption loop.
func DrainStream(ctx context.Context, s Stream) ([]StreamEvent, error) {
	defer s.Close()

	var events []StreamEvent
	for {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		ev, err := s.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
