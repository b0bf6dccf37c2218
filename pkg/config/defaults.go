package config

const (
	defaultChatProvider    = "openai"
	defaultMaxToolRounds   = 3
	defaultFlushIntervalMs = 50

	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-20250514"

	defaultServeListen = ":8080"

	defaultEventTopic = "spool.generation.completed"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Providers: map[string]ProviderConfig{
			"openai":    {Model: defaultOpenAIModel},
			"anthropic": {Model: defaultAnthropicModel},
		},
		Chat: ChatConfig{
			Provider:        defaultChatProvider,
			MaxToolRounds:   defaultMaxToolRounds,
			FlushIntervalMs: defaultFlushIntervalMs,
		},
		Serve: ServeConfig{
			Listen: defaultServeListen,
		},
		EventStream: EventStreamConfig{
			Topic: defaultEventTopic,
		},
	}
}
