package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/orchestrator"
)

// fakeAdapter replays one stream (or error) per round and records requests.
type fakeAdapter struct {
	mu       sync.Mutex
	respond  func(ctx context.Context, round int, req *llm.RoundRequest) (llm.Stream, error)
	requests []*llm.RoundRequest
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Stream(ctx context.Context, req *llm.RoundRequest) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := len(f.requests)
	f.requests = append(f.requests, req)
	return f.respond(ctx, round, req)
}

func (f *fakeAdapter) rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAdapter) request(round int) *llm.RoundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[round]
}

// hookStream yields events until failAfter, then runs its hook once and
// fails the way an aborted transport does.
type hookStream struct {
	events    []llm.StreamEvent
	pos       int
	failAfter int
	hook      func()
}

func (s *hookStream) Recv() (llm.StreamEvent, error) {
	if s.pos >= s.failAfter {
		if s.hook != nil {
			s.hook()
			s.hook = nil
		}
		return llm.StreamEvent{}, context.Canceled
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *hookStream) Close() error { return nil }

// blockingStream behaves like a live transport with no traffic: Recv blocks
// until the request context is cancelled.
type blockingStream struct {
	ctx context.Context
}

func (s *blockingStream) Recv() (llm.StreamEvent, error) {
	<-s.ctx.Done()
	return llm.StreamEvent{}, s.ctx.Err()
}

func (s *blockingStream) Close() error { return nil }

type recordingExecutor struct {
	mu    sync.Mutex
	calls []llm.ToolCall
	run   func(name, args string) (string, error)
}

func (e *recordingExecutor) Execute(_ context.Context, name, args string) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, llm.ToolCall{Name: name, Arguments: args})
	e.mu.Unlock()
	if e.run != nil {
		return e.run(name, args)
	}
	return "ok", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.GenerationCompletedEvent
}

func (p *recordingPublisher) PublishGeneration(_ context.Context, event *eventstream.GenerationCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []*eventstream.GenerationCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

func contentStream(texts ...string) llm.Stream {
	events := make([]llm.StreamEvent, 0, len(texts)+1)
	for _, t := range texts {
		events = append(events, llm.ContentEvent(t))
	}
	events = append(events, llm.FinishEvent(llm.FinishStop))
	return llm.NewSliceStream(events...)
}

func toolStream(frags ...llm.ToolCallFragment) llm.Stream {
	events := make([]llm.StreamEvent, 0, len(frags)+1)
	for _, f := range frags {
		events = append(events, llm.ToolCallEvent(f))
	}
	events = append(events, llm.FinishEvent(llm.FinishToolUse))
	return llm.NewSliceStream(events...)
}

func wait(gen *orchestrator.Generation) {
	Eventually(gen.Done(), time.Second).Should(BeClosed())
}

var _ = Describe("Orchestrator", func() {
	newOrchestrator := func(cfg orchestrator.Config) *orchestrator.Orchestrator {
		if cfg.FlushInterval == 0 {
			cfg.FlushInterval = -1
		}
		return orchestrator.New(cfg)
	}

	Context("with a plain content stream", func() {
		It("runs exactly one round and concatenates content in order", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, round int, _ *llm.RoundRequest) (llm.Stream, error) {
				return contentStream("Hel", "lo"), nil
			}}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Turns:          []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")},
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			result, genErr := gen.Result()
			Expect(genErr).NotTo(HaveOccurred())
			Expect(result.Content).To(Equal("Hello"))
			Expect(result.ToolCalls).To(BeEmpty())
			Expect(result.FinishReason).To(Equal(llm.FinishStop))
			Expect(result.Rounds).To(Equal(1))
			Expect(adapter.rounds()).To(Equal(1))

			turns := gen.Turns()
			Expect(turns).To(HaveLen(2))
			Expect(turns[1].Role).To(Equal(llm.RoleAssistant))
			Expect(turns[1].Content).To(Equal("Hello"))
			Expect(gen.Phase()).To(Equal(orchestrator.PhaseIdle))
		})
	})

	Context("with an OnFlush hook", func() {
		It("delivers each publication to the hook and the handle", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, round int, _ *llm.RoundRequest) (llm.Stream, error) {
				return contentStream("Hel", "lo"), nil
			}}

			var mu sync.Mutex
			var published []string
			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c-flush",
				Adapter:        adapter,
				Model:          "test-model",
				Turns:          []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")},
				OnFlush: func(content, _ string) {
					mu.Lock()
					published = append(published, content)
					mu.Unlock()
				},
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			mu.Lock()
			defer mu.Unlock()
			Expect(published).To(Equal([]string{"Hel", "lo"}))
			Expect(gen.Content()).To(Equal("Hello"))
		})
	})

	Context("with a tool round followed by a content round", func() {
		var (
			adapter  *fakeAdapter
			executor *recordingExecutor
		)

		BeforeEach(func() {
			adapter = &fakeAdapter{respond: func(_ context.Context, round int, _ *llm.RoundRequest) (llm.Stream, error) {
				if round == 0 {
					return toolStream(
						llm.ToolCallFragment{Index: 0, ID: "x1", Name: "web_search", Arguments: `{"query":`},
						llm.ToolCallFragment{Index: 0, Arguments: `"cats"}`},
					), nil
				}
				return contentStream("Cats are popular."), nil
			}}
			executor = &recordingExecutor{run: func(_, _ string) (string, error) {
				return "search results", nil
			}}
		})

		It("completes the call, executes it, and re-requests with the tool turns", func() {
			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Turns:          []llm.Turn{llm.NewTextTurn(llm.RoleUser, "search cats")},
				Tools:          []llm.ToolDefinition{{Name: "web_search"}},
				Executor:       executor,
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			result, genErr := gen.Result()
			Expect(genErr).NotTo(HaveOccurred())
			Expect(result.Rounds).To(Equal(2))
			Expect(result.ToolCalls).To(HaveLen(1))
			Expect(result.ToolCalls[0]).To(Equal(llm.ToolCall{ID: "x1", Name: "web_search", Arguments: `{"query":"cats"}`}))
			Expect(result.Content).To(Equal("Cats are popular."))

			Expect(executor.calls).To(HaveLen(1))
			Expect(executor.calls[0].Arguments).To(Equal(`{"query":"cats"}`))

			// Second request carries the assistant tool-call turn and the
			// tool-result turn.
			second := adapter.request(1)
			Expect(second.Turns).To(HaveLen(3))
			Expect(second.Turns[1].ToolCalls).To(HaveLen(1))
			Expect(second.Turns[2].Role).To(Equal(llm.RoleTool))
			Expect(second.Turns[2].ToolCallID).To(Equal("x1"))
			Expect(second.Turns[2].Content).To(Equal("search results"))
		})

		It("forwards executor failure text as the tool result instead of aborting", func() {
			executor.run = func(name, _ string) (string, error) {
				return "", fmt.Errorf("connection refused")
			}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Tools:          []llm.ToolDefinition{{Name: "web_search"}},
				Executor:       executor,
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			_, genErr := gen.Result()
			Expect(genErr).NotTo(HaveOccurred())

			second := adapter.request(1)
			toolTurn := second.Turns[len(second.Turns)-1]
			Expect(toolTurn.Role).To(Equal(llm.RoleTool))
			Expect(toolTurn.Content).To(ContainSubstring("connection refused"))
		})

		It("pins the forced tool on the first round only", func() {
			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Tools:          []llm.ToolDefinition{{Name: "web_search"}},
				ForceTool:      "web_search",
				Executor:       executor,
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			Expect(adapter.request(0).ForceTool).To(Equal("web_search"))
			Expect(adapter.request(1).ForceTool).To(BeEmpty())
		})
	})

	Context("when every round signals tool use", func() {
		It("stops at the iteration bound without raising an error", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, round int, _ *llm.RoundRequest) (llm.Stream, error) {
				return toolStream(llm.ToolCallFragment{Index: 0, ID: fmt.Sprintf("t%d", round), Name: "clock", Arguments: "{}"}), nil
			}}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Tools:          []llm.ToolDefinition{{Name: "clock"}},
				Executor:       &recordingExecutor{},
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			result, genErr := gen.Result()
			Expect(genErr).NotTo(HaveOccurred())
			Expect(adapter.rounds()).To(Equal(3))
			Expect(result.Rounds).To(Equal(3))
			Expect(result.ToolCalls).To(HaveLen(3))
		})
	})

	Context("when the adapter fails before streaming", func() {
		It("marks an error turn and attempts no second round", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return nil, &llm.Error{Kind: llm.ErrInvalidCredential, Provider: "fake", Message: "invalid or expired API credential"}
			}}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Turns:          []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")},
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			result, genErr := gen.Result()
			Expect(result).To(BeNil())
			Expect(llm.IsKind(genErr, llm.ErrInvalidCredential)).To(BeTrue())
			Expect(adapter.rounds()).To(Equal(1))

			turns := gen.Turns()
			errTurn := turns[len(turns)-1]
			Expect(errTurn.IsError()).To(BeTrue())
			Expect(errTurn.Err).To(ContainSubstring("credential"))
		})
	})

	Context("when cancellation arrives mid-stream", func() {
		It("keeps the published fragments and does not mark an error", func() {
			genCh := make(chan *orchestrator.Generation, 1)
			adapter := &fakeAdapter{respond: func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return &hookStream{
					events: []llm.StreamEvent{
						llm.ContentEvent("Hel"),
						llm.ContentEvent("lo"),
						llm.ContentEvent(" there"),
						llm.ContentEvent(" friendly"),
						llm.ContentEvent(" reader"),
					},
					failAfter: 2,
					hook:      func() { (<-genCh).Cancel() },
				}, nil
			}}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Turns:          []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")},
			})
			Expect(err).NotTo(HaveOccurred())
			genCh <- gen
			wait(gen)

			result, genErr := gen.Result()
			Expect(genErr).NotTo(HaveOccurred())
			Expect(result.Content).To(Equal("Hello"))
			Expect(gen.Content()).To(Equal("Hello"))
			Expect(gen.Cancelled()).To(BeTrue())
			Expect(adapter.rounds()).To(Equal(1))

			for _, turn := range gen.Turns() {
				Expect(turn.IsError()).To(BeFalse())
			}
		})
	})

	Context("when a second generation starts on the same conversation", func() {
		It("cancels the first and waits for it to stop", func() {
			adapter := &fakeAdapter{respond: func(ctx context.Context, round int, _ *llm.RoundRequest) (llm.Stream, error) {
				if round == 0 {
					// Never-ending first stream; only cancellation stops it.
					return &blockingStream{ctx: ctx}, nil
				}
				return contentStream("second"), nil
			}}

			orch := newOrchestrator(orchestrator.Config{})
			first, err := orch.Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := orch.Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Done()).To(BeClosed())
			Expect(first.Cancelled()).To(BeTrue())

			wait(second)
			result, genErr := second.Result()
			Expect(genErr).NotTo(HaveOccurred())
			Expect(result.Content).To(Equal("second"))
		})
	})

	Context("with a publisher configured", func() {
		It("publishes one event per completed generation and none when cancelled", func() {
			publisher := &recordingPublisher{}
			adapter := &fakeAdapter{respond: func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return llm.NewSliceStream(
					llm.ContentEvent("hi"),
					llm.UsageEvent(llm.Usage{PromptTokens: 3, CompletionTokens: 1}),
					llm.FinishEvent(llm.FinishStop),
				), nil
			}}

			orch := newOrchestrator(orchestrator.Config{Publisher: publisher})
			gen, err := orch.Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			events := publisher.published()
			Expect(events).To(HaveLen(1))
			Expect(events[0].EventType).To(Equal(eventstream.EventTypeGenerationCompleted))
			Expect(events[0].Source.Provider).To(Equal("fake"))
			Expect(events[0].Generation.Rounds).To(Equal(1))
			Expect(events[0].Generation.Usage.TotalTokens).To(Equal(4))

			genCh := make(chan *orchestrator.Generation, 1)
			adapter.respond = func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return &hookStream{
					events:    []llm.StreamEvent{llm.ContentEvent("par")},
					failAfter: 1,
					hook:      func() { (<-genCh).Cancel() },
				}, nil
			}
			cancelled, err := orch.Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
			})
			Expect(err).NotTo(HaveOccurred())
			genCh <- cancelled
			wait(cancelled)

			Expect(publisher.published()).To(HaveLen(1))
		})
	})

	Context("request validation", func() {
		It("rejects a missing adapter", func() {
			_, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{Model: "m"})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing model", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return contentStream(), nil
			}}
			_, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{Adapter: adapter})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("error turns in supplied history", func() {
		It("never reach the adapter", func() {
			adapter := &fakeAdapter{respond: func(_ context.Context, _ int, _ *llm.RoundRequest) (llm.Stream, error) {
				return contentStream("ok"), nil
			}}

			gen, err := newOrchestrator(orchestrator.Config{}).Start(context.Background(), &orchestrator.Request{
				ConversationID: "c1",
				Adapter:        adapter,
				Model:          "test-model",
				Turns: []llm.Turn{
					llm.NewTextTurn(llm.RoleUser, "hi"),
					{Role: llm.RoleAssistant, Err: "rate limited"},
					llm.NewTextTurn(llm.RoleUser, "again"),
				},
			})
			Expect(err).NotTo(HaveOccurred())
			wait(gen)

			sent := adapter.request(0).Turns
			Expect(sent).To(HaveLen(2))
			for _, turn := range sent {
				Expect(turn.IsError()).To(BeFalse())
			}
		})
	})
})
