package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/llm"
)

var _ = Describe("Event", func() {
	It("marshals GenerationCompletedEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.GenerationCompletedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeGenerationCompleted,
			EventID:       "evt_123",
			EmittedAt:     now,
			Source: eventstream.EventSource{
				Provider: "openai",
				Model:    "gpt-4o",
			},
			Generation: eventstream.Generation{
				GenerationID:   "gen_123",
				ConversationID: "conv_1",
				Rounds:         2,
				FinishReason:   llm.FinishStop,
				ToolCalls:      1,
				Usage:          llm.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
				DurationMs:     2000,
			},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("source"))
		Expect(got).To(HaveKey("generation"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeGenerationCompleted).To(Equal("spool.generation.completed"))
	})
})
