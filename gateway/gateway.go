// Package gateway exposes the orchestrator over HTTP: a chat endpoint that
// streams coalesced deltas as server-sent events, and a cancel endpoint that
// stops a conversation's active generation.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/orchestrator"
)

// Gateway is the HTTP front end for the orchestrator. It is stateless with
// respect to conversations: clients supply the full turn history on every
// request, and the only server-side state is the set of in-flight
// generations tracked by the orchestrator's controller.
type Gateway struct {
	config Config
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	server *fiber.App
}

// chatRequest is the chat endpoint's JSON body.
type chatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Provider       string        `json:"provider,omitempty"`
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream,omitempty"`
	ForceTool      string        `json:"force_tool,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the non-streaming completion payload, and the payload of
// the terminal "done" event on streaming responses.
type chatResponse struct {
	ConversationID string           `json:"conversation_id"`
	GenerationID   string           `json:"generation_id"`
	Content        string           `json:"content"`
	Reasoning      string           `json:"reasoning,omitempty"`
	FinishReason   llm.FinishReason `json:"finish_reason,omitempty"`
	Rounds         int              `json:"rounds"`
	ToolCalls      int              `json:"tool_calls"`
	Usage          llm.Usage        `json:"usage"`
	Cancelled      bool             `json:"cancelled,omitempty"`
}

// textEvent is the payload of streamed "content" and "reasoning" events.
type textEvent struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a Gateway around an already-configured orchestrator.
func New(cfg Config, orch *orchestrator.Orchestrator) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})

	g := &Gateway{
		config: cfg,
		orch:   orch,
		logger: logger,
		server: app,
	}

	app.Get("/healthz", g.handleHealth)
	app.Post("/v1/chat", g.handleChat)
	app.Delete("/v1/chat/:conversation", g.handleCancel)

	return g, nil
}

// Run starts the gateway server on the configured listen address.
func (g *Gateway) Run() error {
	g.logger.Info("starting gateway", "listen", g.config.ListenAddr)
	return g.server.Listen(g.config.ListenAddr)
}

// RunWithListener starts the gateway using the provided listener.
func (g *Gateway) RunWithListener(listener net.Listener) error {
	g.logger.Info("starting gateway", "listen", listener.Addr().String())
	return g.server.Listener(listener)
}

// Close gracefully shuts down the server. In-flight generations are stopped
// through their contexts.
func (g *Gateway) Close() error {
	return g.server.Shutdown()
}

func (g *Gateway) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (g *Gateway) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid JSON body"})
	}

	if req.ConversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "conversation_id is required"})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "messages are required"})
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = g.config.DefaultProvider
	}
	adapter, ok := g.config.Adapters[providerName]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: fmt.Sprintf("unknown provider: %q", providerName),
		})
	}

	model := req.Model
	if model == "" {
		model = g.config.Models[providerName]
	}
	if model == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "model is required"})
	}

	turns := make([]llm.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		turns = append(turns, llm.NewTextTurn(m.Role, m.Content))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}

	orchReq := &orchestrator.Request{
		ConversationID: req.ConversationID,
		Adapter:        adapter,
		Model:          model,
		Turns:          turns,
		Tools:          g.config.Tools,
		ForceTool:      req.ForceTool,
		Executor:       g.config.Executor,
		MaxTokens:      maxTokens,
	}

	if req.Stream {
		return g.streamChat(c, orchReq)
	}
	return g.completeChat(c, orchReq)
}

// completeChat runs the generation to completion and returns one JSON body.
func (g *Gateway) completeChat(c *fiber.Ctx, req *orchestrator.Request) error {
	gen, err := g.orch.Start(context.Background(), req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	<-gen.Done()

	result, genErr := gen.Result()
	if genErr != nil {
		g.logger.Warn("generation failed",
			"conversation_id", req.ConversationID,
			"generation_id", gen.ID(),
			"error", genErr,
		)
		return c.Status(statusForError(genErr)).JSON(errorResponse{Error: genErr.Error()})
	}

	return c.JSON(buildResponse(req.ConversationID, gen, result))
}

// streamChat runs the generation while forwarding coalesced deltas as
// server-sent events.
//
// The response body uses io.Pipe + SetBodyStream rather than
// SetBodyStreamWriter: the pipe gives direct backpressure, since each write
// blocks until fasthttp has flushed the chunk to the socket. A failed write
// means the client went away, which cancels the generation.
func (g *Gateway) streamChat(c *fiber.Ctx, req *orchestrator.Request) error {
	pr, pw := io.Pipe()

	var (
		writeMu sync.Mutex
		genRef  *orchestrator.Generation
	)

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		writeMu.Lock()
		_, werr := fmt.Fprintf(pw, "event: %s\ndata: %s\n\n", event, data)
		gen := genRef
		writeMu.Unlock()
		if werr != nil && gen != nil {
			gen.Cancel()
		}
	}

	req.OnFlush = func(content, reasoning string) {
		if reasoning != "" {
			writeEvent("reasoning", textEvent{Text: reasoning})
		}
		if content != "" {
			writeEvent("content", textEvent{Text: content})
		}
	}

	// The orchestrator gets context.Background() rather than the fasthttp
	// context: fasthttp recycles its RequestCtx after the handler returns,
	// but the generation outlives the handler.
	gen, err := g.orch.Start(context.Background(), req)
	if err != nil {
		_ = pw.Close()
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	writeMu.Lock()
	genRef = gen
	writeMu.Unlock()

	go func() {
		<-gen.Done()

		result, genErr := gen.Result()
		if genErr != nil {
			writeEvent("error", errorResponse{Error: genErr.Error()})
		} else {
			writeEvent("done", buildResponse(req.ConversationID, gen, result))
		}
		_ = pw.Close()
	}()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Context().SetBodyStream(pr, -1)

	return nil
}

func (g *Gateway) handleCancel(c *fiber.Ctx) error {
	conversationID := c.Params("conversation")
	if !g.orch.Controller().Cancel(conversationID) {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{
			Error: "no active generation for conversation",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func buildResponse(conversationID string, gen *orchestrator.Generation, result *llm.GenerationResult) chatResponse {
	return chatResponse{
		ConversationID: conversationID,
		GenerationID:   gen.ID(),
		Content:        result.Content,
		Reasoning:      result.Reasoning,
		FinishReason:   result.FinishReason,
		Rounds:         result.Rounds,
		ToolCalls:      len(result.ToolCalls),
		Usage:          result.Usage,
		Cancelled:      gen.Cancelled(),
	}
}

func statusForError(err error) int {
	switch {
	case llm.IsKind(err, llm.ErrInvalidCredential):
		return fiber.StatusUnauthorized
	case llm.IsKind(err, llm.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case llm.IsKind(err, llm.ErrConfiguration):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusBadGateway
	}
}
