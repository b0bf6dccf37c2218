package llm_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/llm"
)

var _ = Describe("RequestHistory", func() {
	It("excludes error turns", func() {
		turns := []llm.Turn{
			llm.NewTextTurn(llm.RoleUser, "hi"),
			{Role: llm.RoleAssistant, Err: "rate limited"},
			llm.NewTextTurn(llm.RoleUser, "try again"),
			llm.NewTextTurn(llm.RoleAssistant, "hello"),
		}

		filtered := llm.RequestHistory(turns)
		Expect(filtered).To(HaveLen(3))
		for _, t := range filtered {
			Expect(t.IsError()).To(BeFalse())
		}
	})

	It("returns an empty slice for all-error input", func() {
		turns := []llm.Turn{{Role: llm.RoleAssistant, Err: "boom"}}
		Expect(llm.RequestHistory(turns)).To(BeEmpty())
	})
})

var _ = Describe("DropTrailing", func() {
	It("removes the trailing assistant run back to the last user turn", func() {
		turns := []llm.Turn{
			llm.NewTextTurn(llm.RoleSystem, "be brief"),
			llm.NewTextTurn(llm.RoleUser, "search cats"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "x1", Name: "web_search"}}},
			{Role: llm.RoleTool, ToolCallID: "x1", Content: "results"},
			llm.NewTextTurn(llm.RoleAssistant, "Cats are popular."),
		}

		trimmed := llm.DropTrailing(turns)
		Expect(trimmed).To(HaveLen(2))
		Expect(trimmed[1].Role).To(Equal(llm.RoleUser))
	})

	It("removes trailing error turns", func() {
		turns := []llm.Turn{
			llm.NewTextTurn(llm.RoleUser, "hi"),
			{Role: llm.RoleAssistant, Err: "network: connection reset"},
		}

		trimmed := llm.DropTrailing(turns)
		Expect(trimmed).To(HaveLen(1))
	})

	It("leaves a history ending in a user turn untouched", func() {
		turns := []llm.Turn{
			llm.NewTextTurn(llm.RoleAssistant, "hello"),
			llm.NewTextTurn(llm.RoleUser, "hi"),
		}

		Expect(llm.DropTrailing(turns)).To(HaveLen(2))
	})
})

var _ = Describe("ErrorFromResponse", func() {
	It("maps 401 to invalid_credential", func() {
		err := llm.ErrorFromResponse("openai", 401, strings.NewReader(`{"error":{"message":"bad key"}}`))
		Expect(err.Kind).To(Equal(llm.ErrInvalidCredential))
		Expect(err.Message).To(Equal("bad key"))
		Expect(err.Status).To(Equal(401))
	})

	It("maps 429 to rate_limited", func() {
		err := llm.ErrorFromResponse("anthropic", 429, strings.NewReader(`{}`))
		Expect(err.Kind).To(Equal(llm.ErrRateLimited))
		Expect(err.Message).NotTo(BeEmpty())
	})

	It("maps other statuses to network with a fallback message", func() {
		err := llm.ErrorFromResponse("openai", 503, strings.NewReader("<html>gateway</html>"))
		Expect(err.Kind).To(Equal(llm.ErrNetwork))
		Expect(err.Message).To(ContainSubstring("503"))
	})

	It("reads flat string error bodies", func() {
		err := llm.ErrorFromResponse("openai", 500, strings.NewReader(`{"error":"it broke"}`))
		Expect(err.Message).To(Equal("it broke"))
	})

	It("survives a nil body", func() {
		err := llm.ErrorFromResponse("openai", 500, nil)
		Expect(err.Kind).To(Equal(llm.ErrNetwork))
		Expect(err.Message).NotTo(BeEmpty())
	})
})

var _ = Describe("IsKind", func() {
	It("matches wrapped errors", func() {
		inner := llm.ConfigurationError("openai", "no API key configured")
		Expect(llm.IsKind(inner, llm.ErrConfiguration)).To(BeTrue())
		Expect(llm.IsKind(inner, llm.ErrNetwork)).To(BeFalse())
	})
})

var _ = Describe("Usage", func() {
	It("accumulates across rounds keeping totals consistent", func() {
		var total llm.Usage
		total.Add(llm.Usage{PromptTokens: 10, CompletionTokens: 5})
		total.Add(llm.Usage{PromptTokens: 20, CompletionTokens: 7})

		Expect(total.PromptTokens).To(Equal(30))
		Expect(total.CompletionTokens).To(Equal(12))
		Expect(total.TotalTokens).To(Equal(42))
	})
})

var _ = Describe("SliceStream", func() {
	It("replays events in order and terminates", func() {
		stream := llm.NewSliceStream(
			llm.ContentEvent("a"),
			llm.ContentEvent("b"),
		)

		events, err := llm.DrainStream(context.Background(), stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].Text).To(Equal("a"))
	})

	It("stops replay once closed", func() {
		stream := llm.NewSliceStream(llm.ContentEvent("a"))
		Expect(stream.Close()).To(Succeed())

		_, err := stream.Recv()
		Expect(err).To(MatchError("EOF"))
	})
})
