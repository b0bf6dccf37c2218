// Package anthropic implements the adapter for the Anthropic-style wire
// family: the Messages API with typed SSE events (message_start,
// content_block_start, content_block_delta, message_delta, message_stop,
// error). Tool-use blocks carry id and name on content_block_start and
// argument fragments as input_json_delta on content_block_delta.
package anthropic

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
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// defaultMaxTokens applies when the round request leaves MaxTokens
	// unset; the Messages API requires the field.
	defaultMaxTokens = 4096
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

// New creates an Anthropic-style adapter.
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
	return "anthropic"
}

// Stream issues a streaming Messages API call and returns the normalized
// event sequence.
func (a *adapter) Stream(ctx context.Context, req *llm.RoundRequest) (llm.Stream, error) {
	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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
		body:      resp.Body,
		reader:    sse.NewReader(resp.Body),
		logger:    a.logger,
		toolIndex: make(map[int]int),
	}, nil
}

// buildRequest converts the round request into the Messages wire format.
// System turns lift into the top-level system field; tool results become
// user-role tool_result blocks.
func (a *adapter) buildRequest(req *llm.RoundRequest) *messageRequest {
	out := &messageRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	var system string
	for _, turn := range req.Turns {
		if turn.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += turn.Content
			continue
		}
		out.Messages = append(out.Messages, convertTurn(turn))
	}
	out.System = system

	for _, tool := range req.Tools {
		def := toolDef{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Parameters) > 0 {
			def.InputSchema = tool.Parameters
		}
		out.Tools = append(out.Tools, def)
	}

	if req.ForceTool != "" {
		out.ToolChoice = map[string]any{"type": "tool", "name": req.ForceTool}
	}

	return out
}

// convertTurn maps a normalized non-system turn onto a wire message.
func convertTurn(turn llm.Turn) wireMessage {
	if turn.Role == llm.RoleTool {
		return wireMessage{
			Role: "user",
			Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: turn.ToolCallID,
				Content:   turn.Content,
			}},
		}
	}

	msg := wireMessage{Role: turn.Role}

	if turn.ImageBase64 != "" {
		msg.Content = append(msg.Content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: turn.ImageMediaType,
				Data:      turn.ImageBase64,
			},
		})
	}

	if turn.Content != "" || len(msg.Content) == 0 && len(turn.ToolCalls) == 0 {
		msg.Content = append(msg.Content, contentBlock{Type: "text", Text: turn.Content})
	}

	for _, call := range turn.ToolCalls {
		input := json.RawMessage(call.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		msg.Content = append(msg.Content, contentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Name,
			Input: input,
		})
	}

	return msg
}

// stream parses Anthropic SSE events into normalized events.
//
// Anthropic numbers content blocks across all block types, while normalized
// tool fragments number tool calls only. toolIndex maps the wire block
// index to the fragment index assigned in tool_use start order.
type stream struct {
	body      io.ReadCloser
	reader    *sse.Reader
	logger    *slog.Logger
	pending   []llm.StreamEvent
	toolIndex map[int]int
	done      bool
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
		if sseEvent == nil {
			s.done = true
			return llm.StreamEvent{}, io.EOF
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(sseEvent.Data), &event); err != nil {
			// Malformed lines inside a 200 stream are skipped, not fatal.
			s.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}

		if event.Type == "message_stop" {
			s.done = true
			return llm.StreamEvent{}, io.EOF
		}
		if event.Type == "error" {
			msg := "provider stream error"
			if event.Error != nil && event.Error.Message != "" {
				msg = event.Error.Message
			}
			return llm.StreamEvent{}, &llm.Error{Kind: llm.ErrNetwork, Provider: "anthropic", Message: msg}
		}

		s.pending = append(s.pending, s.normalizeEvent(&event)...)
	}
}

// Close aborts the underlying transport.
func (s *stream) Close() error {
	return s.body.Close()
}

// normalizeEvent maps one typed SSE event onto zero or more normalized
// events.
func (s *stream) normalizeEvent(event *streamEvent) []llm.StreamEvent {
	switch event.Type {
	case "message_start":
		// Prompt-token usage arrives here; completion tokens follow on
		// message_delta.
		if event.Message != nil && event.Message.Usage != nil {
			return []llm.StreamEvent{llm.UsageEvent(llm.Usage{
				PromptTokens: event.Message.Usage.InputTokens,
			})}
		}

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			fragIndex := len(s.toolIndex)
			s.toolIndex[event.Index] = fragIndex
			return []llm.StreamEvent{llm.ToolCallEvent(llm.ToolCallFragment{
				Index: fragIndex,
				ID:    event.ContentBlock.ID,
				Name:  event.ContentBlock.Name,
			})}
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []llm.StreamEvent{llm.ContentEvent(event.Delta.Text)}
			}
		case "thinking_delta":
			if event.Delta.Thinking != "" {
				return []llm.StreamEvent{llm.ReasoningEvent(event.Delta.Thinking)}
			}
		case "input_json_delta":
			fragIndex, ok := s.toolIndex[event.Index]
			if !ok {
				// Argument fragment for a block that never started; drop it.
				return nil
			}
			if event.Delta.PartialJSON != "" {
				return []llm.StreamEvent{llm.ToolCallEvent(llm.ToolCallFragment{
					Index:     fragIndex,
					Arguments: event.Delta.PartialJSON,
				})}
			}
		}

	case "message_delta":
		var events []llm.StreamEvent
		if event.Delta != nil && event.Delta.StopReason != "" {
			events = append(events, llm.FinishEvent(normalizeStopReason(event.Delta.StopReason)))
		}
		if event.Usage != nil {
			events = append(events, llm.UsageEvent(llm.Usage{
				CompletionTokens: event.Usage.OutputTokens,
			}))
		}
		return events
	}

	// ping, content_block_stop, and unknown event types carry nothing.
	return nil
}

func normalizeStopReason(reason string) llm.FinishReason {
	switch reason {
	case "tool_use":
		return llm.FinishToolUse
	case "max_tokens":
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}
