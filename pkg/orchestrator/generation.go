package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/llm"
)

// Phase describes what a generation is doing right now.
type Phase string

const (
	// PhaseThinking covers the window before the first content token,
	// including reasoning deltas.
	PhaseThinking Phase = "thinking"

	// PhaseSearching covers tool execution between rounds.
	PhaseSearching Phase = "searching"

	// PhaseStreaming covers active content delivery.
	PhaseStreaming Phase = "streaming"

	// PhaseIdle means the generation has finished.
	PhaseIdle Phase = "idle"
)

// Generation is the host-facing handle for one in-flight generation. Content
// and reasoning grow as flushes publish; the host reads snapshots and never
// writes. The loop goroutine exclusively owns the accumulating state until
// Done closes.
type Generation struct {
	id             string
	conversationID string
	cancel         context.CancelFunc
	done           chan struct{}

	mu        sync.RWMutex
	content   string
	reasoning string
	phase     Phase
	turns     []llm.Turn
	result    *llm.GenerationResult
	err       error
	cancelled bool
}

func newGeneration(conversationID string, cancel context.CancelFunc) *Generation {
	return &Generation{
		id:             uuid.NewString(),
		conversationID: conversationID,
		cancel:         cancel,
		done:           make(chan struct{}),
		phase:          PhaseThinking,
	}
}

// ID returns the generation's unique id.
func (g *Generation) ID() string {
	return g.id
}

// ConversationID returns the conversation this generation belongs to.
func (g *Generation) ConversationID() string {
	return g.conversationID
}

// Content returns a snapshot of the published content so far.
func (g *Generation) Content() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.content
}

// Reasoning returns a snapshot of the published reasoning so far.
func (g *Generation) Reasoning() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reasoning
}

// Phase returns the current phase.
func (g *Generation) Phase() Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.phase
}

// Cancel requests cooperative cancellation. The loop observes it within one
// event-processing step and aborts the underlying transport. Safe to call
// more than once and after completion.
func (g *Generation) Cancel() {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
	g.cancel()
}

// Cancelled reports whether cancellation was requested.
func (g *Generation) Cancelled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cancelled
}

// Done closes when the generation has stopped, whether it finished, failed,
// or was cancelled.
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Result returns the completion outcome. Valid only after Done closes.
// Exactly one of result and error is set for finished and failed
// generations; a cancelled generation carries a result with whatever content
// accumulated and no error.
func (g *Generation) Result() (*llm.GenerationResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.result, g.err
}

// Turns returns the turn history including turns appended by the loop:
// assistant turns, tool-result turns, and error turns.
func (g *Generation) Turns() []llm.Turn {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]llm.Turn, len(g.turns))
	copy(out, g.turns)
	return out
}

func (g *Generation) appendPublished(content, reasoning string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.content += content
	g.reasoning += reasoning
}

func (g *Generation) setPhase(p Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = p
}

func (g *Generation) setTurns(turns []llm.Turn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turns = turns
}

// finish records the outcome, parks the phase at idle, and closes Done.
func (g *Generation) finish(result *llm.GenerationResult, err error) {
	g.mu.Lock()
	g.result = result
	g.err = err
	g.phase = PhaseIdle
	g.mu.Unlock()

	g.cancel()
	close(g.done)
}
