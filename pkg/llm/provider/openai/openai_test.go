package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/llm/provider/openai"
)

// sseBody joins data lines into an SSE response body.
func sseBody(lines ...string) string {
	body := ""
	for _, line := range lines {
		body += "data: " + line + "\n\n"
	}
	return body
}

func collect(stream llm.Stream) []llm.StreamEvent {
	events, err := llm.DrainStream(context.Background(), stream)
	Expect(err).NotTo(HaveOccurred())
	return events
}

var _ = Describe("OpenAI Adapter", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		recorded []byte
	)

	BeforeEach(func() {
		recorded = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorded, _ = io.ReadAll(r.Body)
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newAdapter := func() provider.Adapter {
		return openai.New(openai.Config{APIKey: "sk-test", BaseURL: server.URL})
	}

	respondSSE := func(body string) {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, body)
		}
	}

	Describe("Stream", func() {
		Context("with plain content chunks", func() {
			It("yields content events in arrival order and stops at [DONE]", func() {
				respondSSE(sseBody(
					`{"choices":[{"delta":{"content":"Hel"}}]}`,
					`{"choices":[{"delta":{"content":"lo"}}]}`,
					`[DONE]`,
				))

				stream, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{
					Model: "gpt-4o",
					Turns: []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")},
				})
				Expect(err).NotTo(HaveOccurred())

				events := collect(stream)
				Expect(events).To(HaveLen(2))
				Expect(events[0].Type).To(Equal(llm.EventContent))
				Expect(events[0].Text).To(Equal("Hel"))
				Expect(events[1].Text).To(Equal("lo"))
			})
		})

		Context("with reasoning deltas", func() {
			It("normalizes both reasoning keys", func() {
				respondSSE(sseBody(
					`{"choices":[{"delta":{"reasoning":"think "}}]}`,
					`{"choices":[{"delta":{"reasoning_content":"more"}}]}`,
					`[DONE]`,
				))

				stream, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "r1"})
				Expect(err).NotTo(HaveOccurred())

				events := collect(stream)
				Expect(events).To(HaveLen(2))
				Expect(events[0].Type).To(Equal(llm.EventReasoning))
				Expect(events[0].Text).To(Equal("think "))
				Expect(events[1].Text).To(Equal("more"))
			})
		})

		Context("with fragmented tool calls", func() {
			It("yields fragments preserving index, id, name, and argument order", func() {
				respondSSE(sseBody(
					`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"x1","function":{"name":"web_search","arguments":"{\"query\":"}}]}}]}`,
					`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"cats\"}"}}]}}]}`,
					`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
					`[DONE]`,
				))

				stream, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(err).NotTo(HaveOccurred())

				events := collect(stream)
				Expect(events).To(HaveLen(3))

				Expect(events[0].Type).To(Equal(llm.EventToolCall))
				Expect(events[0].ToolCall.Index).To(Equal(0))
				Expect(events[0].ToolCall.ID).To(Equal("x1"))
				Expect(events[0].ToolCall.Name).To(Equal("web_search"))
				Expect(events[0].ToolCall.Arguments).To(Equal(`{"query":`))

				Expect(events[1].ToolCall.Arguments).To(Equal(`"cats"}`))
				Expect(events[1].ToolCall.ID).To(BeEmpty())

				Expect(events[2].Type).To(Equal(llm.EventFinish))
				Expect(events[2].Finish).To(Equal(llm.FinishToolUse))
			})
		})

		Context("with usage on the final chunk", func() {
			It("yields a usage event", func() {
				respondSSE(sseBody(
					`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
					`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
					`[DONE]`,
				))

				stream, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(err).NotTo(HaveOccurred())

				events := collect(stream)
				Expect(events).To(HaveLen(3))
				Expect(events[2].Type).To(Equal(llm.EventUsage))
				Expect(events[2].Usage.PromptTokens).To(Equal(12))
				Expect(events[2].Usage.CompletionTokens).To(Equal(3))
			})
		})

		Context("with malformed lines inside a 200 stream", func() {
			It("skips them without failing the stream", func() {
				respondSSE(sseBody(
					`{"choices":[{"delta":{"content":"a"}}]}`,
					`{not json`,
					`{"choices":[{"delta":{"content":"b"}}]}`,
					`[DONE]`,
				))

				stream, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(err).NotTo(HaveOccurred())

				events := collect(stream)
				Expect(events).To(HaveLen(2))
				Expect(events[0].Text).To(Equal("a"))
				Expect(events[1].Text).To(Equal("b"))
			})
		})

		Context("when the provider returns 401", func() {
			It("classifies the error as invalid_credential", func() {
				handler = func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
				}

				_, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(err).To(HaveOccurred())
				Expect(llm.IsKind(err, llm.ErrInvalidCredential)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Incorrect API key"))
			})
		})

		Context("when the provider returns 429", func() {
			It("classifies the error as rate_limited", func() {
				handler = func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached"}}`)
				}

				_, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(llm.IsKind(err, llm.ErrRateLimited)).To(BeTrue())
			})
		})

		Context("when the provider returns another non-200", func() {
			It("classifies the error as network with the extracted message", func() {
				handler = func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, `{"error":{"message":"The server had an error"}}`)
				}

				_, err := newAdapter().Stream(context.Background(), &llm.RoundRequest{Model: "gpt-4o"})
				Expect(llm.IsKind(err, llm.ErrNetwork)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("The server had an error"))
			})
		})
	})

	Describe("request construction", func() {
		var parsed map[string]any

		issue := func(req *llm.RoundRequest) {
			respondSSE(sseBody(`[DONE]`))
			stream, err := newAdapter().Stream(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			collect(stream)
			parsed = map[string]any{}
			Expect(json.Unmarshal(recorded, &parsed)).To(Succeed())
		}

		It("requests streaming with usage reporting", func() {
			issue(&llm.RoundRequest{Model: "gpt-4o"})

			Expect(parsed["stream"]).To(BeTrue())
			opts, ok := parsed["stream_options"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(opts["include_usage"]).To(BeTrue())
		})

		It("pins tool_choice when a tool is forced", func() {
			issue(&llm.RoundRequest{
				Model:     "gpt-4o",
				Tools:     []llm.ToolDefinition{{Name: "web_search"}},
				ForceTool: "web_search",
			})

			choice, ok := parsed["tool_choice"].(map[string]any)
			Expect(ok).To(BeTrue())
			fn, ok := choice["function"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(fn["name"]).To(Equal("web_search"))
		})

		It("leaves tool_choice unset when no tool is forced", func() {
			issue(&llm.RoundRequest{
				Model: "gpt-4o",
				Tools: []llm.ToolDefinition{{Name: "web_search"}},
			})

			Expect(parsed).NotTo(HaveKey("tool_choice"))
		})

		It("serializes tool-result turns with tool_call_id", func() {
			issue(&llm.RoundRequest{
				Model: "gpt-4o",
				Turns: []llm.Turn{
					{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "x1", Name: "web_search", Arguments: `{"query":"cats"}`}}},
					{Role: llm.RoleTool, ToolCallID: "x1", Content: "results here"},
				},
			})

			messages, ok := parsed["messages"].([]any)
			Expect(ok).To(BeTrue())
			Expect(messages).To(HaveLen(2))

			assistant, ok := messages[0].(map[string]any)
			Expect(ok).To(BeTrue())
			calls, ok := assistant["tool_calls"].([]any)
			Expect(ok).To(BeTrue())
			Expect(calls).To(HaveLen(1))

			toolMsg, ok := messages[1].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(toolMsg["role"]).To(Equal("tool"))
			Expect(toolMsg["tool_call_id"]).To(Equal("x1"))
			Expect(toolMsg["content"]).To(Equal("results here"))
		})

		It("encodes image turns as data-URL content parts", func() {
			issue(&llm.RoundRequest{
				Model: "gpt-4o",
				Turns: []llm.Turn{{
					Role:           llm.RoleUser,
					Content:        "what is this?",
					ImageBase64:    "aGVsbG8=",
					ImageMediaType: "image/png",
				}},
			})

			messages, _ := parsed["messages"].([]any)
			user, _ := messages[0].(map[string]any)
			parts, ok := user["content"].([]any)
			Expect(ok).To(BeTrue())
			Expect(parts).To(HaveLen(2))

			img, _ := parts[1].(map[string]any)
			Expect(img["type"]).To(Equal("image_url"))
			url, _ := img["image_url"].(map[string]any)
			Expect(url["url"]).To(Equal("data:image/png;base64,aGVsbG8="))
		})
	})
})
