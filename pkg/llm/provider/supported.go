package provider

import (
	"fmt"

	"github.com/papercomputeco/spool/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/spool/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI}
}

// IsSupported reports whether the given provider type is recognized.
func IsSupported(providerType string) bool {
	switch providerType {
	case Anthropic, OpenAI:
		return true
	default:
		return false
	}
}

// New creates a new Adapter instance for the given provider type.
// Returns an error if the provider type is not recognized.
func New(providerType string, cfg Config) (Adapter, error) {
	switch providerType {
	case Anthropic:
		return anthropic.New(anthropic.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}), nil
	case OpenAI:
		return openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", providerType, SupportedProviders())
	}
}
