// Package openai implements the adapter for the OpenAI-style wire family:
// JSON chat completions over SSE with one JSON object per "data:" line and a
// terminal "data: [DONE]" sentinel. Many OpenAI-compatible backends speak
// this protocol, so the adapter is deliberately liberal in what it accepts
// (e.g. reasoning deltas under either known key).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/sse"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	doneSentinel   = "[DONE]"
)

// Config carries adapter wiring. See provider.Config for field semantics.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type adapter struct {
	config Config
	logger *slog.Logger
}

// New creates an OpenAI-style adapter.
func New(cfg Config) *adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &adapter{config: cfg, logger: logger}
}

func (a *adapter) Name() string {
	return "openai"
}

// Stream issues a streaming chat completion and returns the normalized
// event sequence.
func (a *adapter) Stream(ctx context.Context, req *llm.RoundRequest) (llm.Stream, error) {
	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	a.logger.Debug("issuing round",
		"provider", a.Name(),
		"model", req.Model,
		"turns", len(req.Turns),
		"tools", len(req.Tools),
		"force_tool", req.ForceTool,
	)

	resp, err := a.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Kind: llm.ErrNetwork, Provider: a.Name(), Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, llm.ErrorFromResponse(a.Name(), resp.StatusCode, resp.Body)
	}

	return &stream{
		body:   resp.Body,
		reader: sse.NewReader(resp.Body),
		logger: a.logger,
	}, nil
}

// buildRequest converts the round request into the OpenAI wire format.
func (a *adapter) buildRequest(req *llm.RoundRequest) *chatRequest {
	out := &chatRequest{
		Model:  req.Model,
		Stream: true,
		// Usage arrives on the final chunk only when asked for.
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}

	for _, turn := range req.Turns {
		out.Messages = append(out.Messages, convertTurn(turn))
	}

	for _, tool := range req.Tools {
		fn := functionDef{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Parameters) > 0 {
			fn.Parameters = tool.Parameters
		}
		out.Tools = append(out.Tools, toolDef{Type: "function", Function: fn})
	}

	if req.ForceTool != "" {
		out.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": req.ForceTool},
		}
	}

	return out
}

// convertTurn maps a normalized turn onto an OpenAI chat message.
func convertTurn(turn llm.Turn) chatMessage {
	msg := chatMessage{Role: turn.Role}

	switch {
	case turn.Role == llm.RoleTool:
		msg.ToolCallID = turn.ToolCallID
		msg.Content = turn.Content
	case turn.ImageBase64 != "":
		parts := []contentPart{}
		if turn.Content != "" {
			parts = append(parts, contentPart{Type: "text", Text: turn.Content})
		}
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", turn.ImageMediaType, turn.ImageBase64),
			},
		})
		msg.Content = parts
	default:
		msg.Content = turn.Content
	}

	for _, call := range turn.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: wireFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}

	return msg
}

// stream parses OpenAI SSE chunks into normalized events. One chunk can
// carry several normalized events (tool-call fragments plus a finish
// reason), so decoded events queue in pending until received.
type stream struct {
	body    io.ReadCloser
	reader  *sse.Reader
	logger  *slog.Logger
	pending []llm.StreamEvent
	done    bool
}

func (s *stream) Recv() (llm.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return llm.StreamEvent{}, io.EOF
		}

		sseEvent, err := s.reader.Next()
		if err != nil {
			return llm.StreamEvent{}, err
		}
		if sseEvent == nil || sseEvent.Data == doneSentinel {
			s.done = true
			return llm.StreamEvent{}, io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(sseEvent.Data), &chunk); err != nil {
			// Malformed lines inside a 200 stream are skipped, not fatal.
			s.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}

		s.pending = append(s.pending, normalizeChunk(&chunk)...)
	}
}

// Close aborts the underlying transport.
func (s *stream) Close() error {
	return s.body.Close()
}

// normalizeChunk maps one wire chunk onto zero or more normalized events.
func normalizeChunk(chunk *chatChunk) []llm.StreamEvent {
	var events []llm.StreamEvent

	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta

		if delta.Content != nil && *delta.Content != "" {
			events = append(events, llm.ContentEvent(*delta.Content))
		}

		if reasoning := delta.Reasoning + delta.ReasoningContent; reasoning != "" {
			events = append(events, llm.ReasoningEvent(reasoning))
		}

		for _, tc := range delta.ToolCalls {
			frag := llm.ToolCallFragment{Index: tc.Index, ID: tc.ID}
			if tc.Function != nil {
				frag.Name = tc.Function.Name
				frag.Arguments = tc.Function.Arguments
			}
			events = append(events, llm.ToolCallEvent(frag))
		}

		if reason := chunk.Choices[0].FinishReason; reason != "" {
			events = append(events, llm.FinishEvent(normalizeFinishReason(reason)))
		}
	}

	if chunk.Usage != nil {
		events = append(events, llm.UsageEvent(llm.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}))
	}

	return events
}

func normalizeFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return llm.FinishToolUse
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}
