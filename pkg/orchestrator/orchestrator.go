// Package orchestrator drives the request, stream, tool-execute, re-request
// cycle against a provider adapter. Incremental text is coalesced through a
// flush scheduler, fragmented tool calls are merged by an accumulator, and a
// cancellation controller keeps one generation active per conversation.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider"
)

// DefaultMaxToolRounds bounds how many provider rounds a single generation
// may issue. A tool that perpetually re-triggers tool use stops here instead
// of looping indefinitely.
const DefaultMaxToolRounds = 3

// Executor runs a named tool with JSON arguments and returns its result
// text. Execution failures are non-fatal to the generation: the failure text
// is forwarded to the model as the tool result.
type Executor interface {
	Execute(ctx context.Context, name, argumentsJSON string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name, argumentsJSON string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, name, argumentsJSON string) (string, error) {
	return f(ctx, name, argumentsJSON)
}

// Config carries orchestrator wiring. Zero values select defaults.
type Config struct {
	Logger *slog.Logger

	// FlushInterval is the minimum wall time between flush publications.
	FlushInterval time.Duration

	// MaxToolRounds bounds rounds per generation.
	MaxToolRounds int

	// Publisher receives a completed-generation event after each natural
	// completion. Nil disables publishing.
	Publisher eventstream.Publisher
}

// Orchestrator starts and tracks generations.
type Orchestrator struct {
	logger        *slog.Logger
	flushInterval time.Duration
	maxToolRounds int
	publisher     eventstream.Publisher
	controller    *Controller
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	return &Orchestrator{
		logger:        logger,
		flushInterval: interval,
		maxToolRounds: rounds,
		publisher:     cfg.Publisher,
		controller:    NewController(),
	}
}

// Controller exposes the cancellation controller, letting hosts cancel a
// conversation's active generation directly.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Request describes one generation: the conversation it belongs to, the
// adapter to talk through, the prior turn history, and the tool surface.
type Request struct {
	ConversationID string
	Adapter        provider.Adapter
	Model          string
	Turns          []llm.Turn
	Tools          []llm.ToolDefinition

	// ForceTool pins tool choice to the named tool on the first round only.
	// Later rounds leave the model's tool choice free.
	ForceTool string

	// Executor runs tool calls. Required when Tools is non-empty.
	Executor Executor

	// OnFlush receives each coalesced publication as it happens. Optional;
	// published text is also readable through the Generation handle.
	OnFlush PublishFunc

	MaxTokens int
}

// Start launches a generation and returns its handle. If the conversation
// already has an active generation it is cancelled first, and Start returns
// only after it has stopped. The returned generation runs until completion,
// failure, or cancellation; Done signals which.
func (o *Orchestrator) Start(ctx context.Context, req *Request) (*Generation, error) {
	if req.Adapter == nil {
		return nil, fmt.Errorf("no adapter provided")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("no model provided")
	}

	genCtx, cancel := context.WithCancel(ctx)
	gen := newGeneration(req.ConversationID, cancel)
	gen.setTurns(req.Turns)

	o.controller.Acquire(req.ConversationID, gen)

	go o.run(genCtx, gen, req)
	return gen, nil
}

// run is the loop goroutine. It exclusively owns the accumulating state
// until it calls finish.
func (o *Orchestrator) run(ctx context.Context, gen *Generation, req *Request) {
	defer o.controller.Release(req.ConversationID, gen)

	publish := gen.appendPublished
	if req.OnFlush != nil {
		onFlush := req.OnFlush
		publish = func(content, reasoning string) {
			gen.appendPublished(content, reasoning)
			onFlush(content, reasoning)
		}
	}
	flusher := NewFlusher(o.flushInterval, publish)

	turns := make([]llm.Turn, len(req.Turns))
	copy(turns, req.Turns)

	var (
		usage      llm.Usage
		allCalls   []llm.ToolCall
		finish     llm.FinishReason
		firstToken time.Duration
		duration   time.Duration
		rounds     int
	)

	finalize := func() {
		gen.setTurns(turns)
		result := &llm.GenerationResult{
			Content:           gen.Content(),
			Reasoning:         gen.Reasoning(),
			ToolCalls:         allCalls,
			FinishReason:      finish,
			Usage:             usage,
			Rounds:            rounds,
			FirstTokenLatency: firstToken,
			Duration:          duration,
		}
		o.publishCompleted(gen, req, result)
		gen.finish(result, nil)
	}

	stopCancelled := func(roundContent, roundReasoning string) {
		if roundContent != "" || roundReasoning != "" {
			turns = append(turns, llm.Turn{
				Role:      llm.RoleAssistant,
				Content:   roundContent,
				Reasoning: roundReasoning,
			})
		}
		gen.setTurns(turns)
		gen.finish(&llm.GenerationResult{
			Content:           gen.Content(),
			Reasoning:         gen.Reasoning(),
			ToolCalls:         allCalls,
			Usage:             usage,
			Rounds:            rounds,
			FirstTokenLatency: firstToken,
			Duration:          duration,
		}, nil)
	}

	fail := func(roundContent, roundReasoning string, err error) {
		turns = append(turns, llm.Turn{
			Role:      llm.RoleAssistant,
			Content:   roundContent,
			Reasoning: roundReasoning,
			Err:       err.Error(),
		})
		gen.setTurns(turns)
		o.logger.Error("generation failed",
			"generation_id", gen.ID(),
			"conversation_id", req.ConversationID,
			"error", err,
		)
		gen.finish(nil, err)
	}

	for iteration := 0; ; iteration++ {
		rounds = iteration + 1
		gen.setPhase(PhaseThinking)

		roundReq := &llm.RoundRequest{
			Model:     req.Model,
			Turns:     llm.RequestHistory(turns),
			Tools:     req.Tools,
			MaxTokens: req.MaxTokens,
		}
		if iteration == 0 {
			roundReq.ForceTool = req.ForceTool
		}

		roundStart := time.Now()
		stream, err := req.Adapter.Stream(ctx, roundReq)
		if err != nil {
			flusher.Drain()
			if ctx.Err() != nil {
				stopCancelled("", "")
				return
			}
			fail("", "", err)
			return
		}

		var (
			acc            = NewAccumulator()
			roundContent   string
			roundReasoning string
			roundFinish    llm.FinishReason
			roundFirst     time.Duration
			streamErr      error
			cancelled      bool
		)

		for {
			ev, recvErr := stream.Recv()
			if recvErr == io.EOF {
				break
			}
			if recvErr != nil {
				streamErr = recvErr
				break
			}

			switch ev.Type {
			case llm.EventContent:
				if roundFirst == 0 {
					roundFirst = time.Since(roundStart)
				}
				gen.setPhase(PhaseStreaming)
				flusher.AppendContent(ev.Text)
				roundContent += ev.Text
			case llm.EventReasoning:
				if roundFirst == 0 {
					roundFirst = time.Since(roundStart)
				}
				flusher.AppendReasoning(ev.Text)
				roundReasoning += ev.Text
			case llm.EventToolCall:
				if ev.ToolCall != nil {
					acc.Add(*ev.ToolCall)
				}
			case llm.EventFinish:
				roundFinish = ev.Finish
			case llm.EventUsage:
				if ev.Usage != nil {
					usage.Add(*ev.Usage)
				}
			}

			// Cancellation is cooperative: checked once per event, never
			// preempting mid-instruction.
			if ctx.Err() != nil {
				cancelled = true
				break
			}
		}

		_ = stream.Close()

		// The round-end drain happens on every exit path.
		flusher.Drain()

		firstToken = roundFirst
		duration = time.Since(roundStart)
		finish = roundFinish

		if cancelled || (streamErr != nil && ctx.Err() != nil) {
			stopCancelled(roundContent, roundReasoning)
			return
		}
		if streamErr != nil {
			fail(roundContent, roundReasoning, streamErr)
			return
		}

		calls := acc.Completed()
		if !roundFinish.ToolUse() && len(calls) == 0 {
			turns = append(turns, llm.Turn{
				Role:      llm.RoleAssistant,
				Content:   roundContent,
				Reasoning: roundReasoning,
			})
			finalize()
			return
		}

		allCalls = append(allCalls, calls...)
		turns = append(turns, llm.Turn{
			Role:      llm.RoleAssistant,
			Content:   roundContent,
			Reasoning: roundReasoning,
			ToolCalls: calls,
		})

		gen.setPhase(PhaseSearching)
		for _, call := range calls {
			if ctx.Err() != nil {
				gen.setTurns(turns)
				stopCancelled("", "")
				return
			}
			turns = append(turns, llm.Turn{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    o.executeTool(ctx, req, call),
			})
		}
		gen.setTurns(turns)

		if iteration+1 >= o.maxToolRounds {
			// Iteration bound reached with tool use still signaled: stop
			// with whatever accumulated, without raising an error.
			finalize()
			return
		}
	}
}

// executeTool runs one call sequentially. Failure text becomes the tool
// result so the model decides how to respond.
func (o *Orchestrator) executeTool(ctx context.Context, req *Request, call llm.ToolCall) string {
	if req.Executor == nil {
		return fmt.Sprintf("tool %s failed: no executor configured", call.Name)
	}

	out, err := req.Executor.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		o.logger.Warn("tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error", err,
		)
		return fmt.Sprintf("tool %s failed: %v", call.Name, err)
	}
	return out
}

// publishCompleted emits a completed-generation event. Best effort: publish
// failures are logged, never surfaced to the generation.
func (o *Orchestrator) publishCompleted(gen *Generation, req *Request, result *llm.GenerationResult) {
	if o.publisher == nil {
		return
	}

	event := &eventstream.GenerationCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeGenerationCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source: eventstream.EventSource{
			Provider: req.Adapter.Name(),
			Model:    req.Model,
		},
		Generation: eventstream.Generation{
			GenerationID:      gen.ID(),
			ConversationID:    req.ConversationID,
			Rounds:            result.Rounds,
			FinishReason:      result.FinishReason,
			ToolCalls:         len(result.ToolCalls),
			Usage:             result.Usage,
			FirstTokenLatency: result.FirstTokenLatency.Milliseconds(),
			DurationMs:        result.Duration.Milliseconds(),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.publisher.PublishGeneration(ctx, event); err != nil {
		o.logger.Warn("publishing generation event failed",
			"generation_id", gen.ID(),
			"error", err,
		)
	}
}
