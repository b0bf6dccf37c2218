// Package provider defines the adapter contract between the orchestrator and
// LLM wire protocols. Each supported wire-protocol family has one adapter
// implementation in a subpackage; the rest of the system only sees
// normalized llm.StreamEvents.
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

// Adapter turns a provider-agnostic round request into a provider-native
// streaming request and parses the response into normalized events.
type Adapter interface {
	// Name returns the canonical provider name (e.g. "anthropic", "openai").
	Name() string

	// Stream issues the round and returns a lazy, single-pass event
	// sequence. The sequence terminates on the provider's end-of-stream
	// signal or an error; cancelling ctx or closing the stream aborts the
	// underlying transport.
	Stream(ctx context.Context, req *llm.RoundRequest) (llm.Stream, error)
}

// Config carries the per-adapter wiring resolved by the host before any
// network call: credential, endpoint, transport, and logger.
type Config struct {
	// APIKey is the provider credential. Adapters assume it is present;
	// absence is a configuration error surfaced by the host beforehand.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string

	// HTTPClient overrides the default transport. LLM streams can be slow,
	// so the default client has no overall timeout; cancellation comes from
	// the request context.
	HTTPClient *http.Client

	// Logger receives per-round debug logging. Defaults to a nop logger.
	Logger *slog.Logger
}

// DefaultHTTPClient returns the transport adapters fall back to. No overall
// timeout: streams are bounded by the request context, and the dial is
// bounded by the transport's connect timeout.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 2 * time.Minute,
		},
	}
}
