package gateway

import (
	"errors"
	"log/slog"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/orchestrator"
)

// Config holds the gateway's wiring: listen address, the adapters it can
// route to, and the shared generation settings applied to every request.
type Config struct {
	// ListenAddr is the address the HTTP server binds to (e.g. ":8080").
	ListenAddr string

	// DefaultProvider is used when a request omits the provider field.
	DefaultProvider string

	// Adapters maps provider names to ready-to-use adapters.
	Adapters map[string]provider.Adapter

	// Models maps provider names to their default model, used when a
	// request omits the model field.
	Models map[string]string

	// Tools is the tool surface offered to the model on every generation.
	Tools []llm.ToolDefinition

	// Executor runs tool calls. Required when Tools is non-empty.
	Executor orchestrator.Executor

	// MaxTokens caps completion length per round. Zero lets the provider
	// default apply.
	MaxTokens int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if len(c.Adapters) == 0 {
		return errors.New("at least one adapter is required")
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Adapters[c.DefaultProvider]; !ok {
			return errors.New("default provider has no adapter")
		}
	}
	return nil
}
