package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent spool configuration stored as config.toml
// in the .spool/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int                       `toml:"version"`
	Providers   map[string]ProviderConfig `toml:"providers"`
	Chat        ChatConfig                `toml:"chat"`
	Serve       ServeConfig               `toml:"serve"`
	EventStream EventStreamConfig         `toml:"eventstream"`
	MCP         MCPConfig                 `toml:"mcp"`
}

// ProviderConfig holds per-provider defaults.
type ProviderConfig struct {
	Model   string `toml:"model,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

// ChatConfig holds generation settings shared by the chat command and the
// serve gateway.
type ChatConfig struct {
	Provider        string `toml:"provider,omitempty"`
	MaxToolRounds   int    `toml:"max_tool_rounds,omitempty"`
	FlushIntervalMs int    `toml:"flush_interval_ms,omitempty"`
	MaxTokens       int    `toml:"max_tokens,omitempty"`
}

// ServeConfig holds gateway server settings.
type ServeConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventStreamConfig holds completed-generation event publishing settings.
type EventStreamConfig struct {
	Enabled bool     `toml:"enabled,omitempty"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// MCPConfig holds the optional MCP tool server subprocess settings.
type MCPConfig struct {
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
}

// Provider returns the named provider's config, zero-valued when absent.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func providerKey(name string, field func(*ProviderConfig) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			pc := c.Providers[name]
			return *field(&pc)
		},
		set: func(c *Config, v string) error {
			if c.Providers == nil {
				c.Providers = make(map[string]ProviderConfig)
			}
			pc := c.Providers[name]
			*field(&pc) = v
			c.Providers[name] = pc
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"providers.openai.model":      providerKey("openai", func(p *ProviderConfig) *string { return &p.Model }),
	"providers.openai.base_url":   providerKey("openai", func(p *ProviderConfig) *string { return &p.BaseURL }),
	"providers.anthropic.model":   providerKey("anthropic", func(p *ProviderConfig) *string { return &p.Model }),
	"providers.anthropic.base_url": providerKey("anthropic", func(p *ProviderConfig) *string { return &p.BaseURL }),
	"chat.provider": {
		get: func(c *Config) string { return c.Chat.Provider },
		set: func(c *Config, v string) error { c.Chat.Provider = v; return nil },
	},
	"chat.max_tool_rounds": {
		get: func(c *Config) string { return strconv.Itoa(c.Chat.MaxToolRounds) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for chat.max_tool_rounds: %q", v)
			}
			c.Chat.MaxToolRounds = n
			return nil
		},
	},
	"chat.flush_interval_ms": {
		get: func(c *Config) string { return strconv.Itoa(c.Chat.FlushIntervalMs) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for chat.flush_interval_ms: %q", v)
			}
			c.Chat.FlushIntervalMs = n
			return nil
		},
	},
	"chat.max_tokens": {
		get: func(c *Config) string { return strconv.Itoa(c.Chat.MaxTokens) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for chat.max_tokens: %q", v)
			}
			c.Chat.MaxTokens = n
			return nil
		},
	},
	"serve.listen": {
		get: func(c *Config) string { return c.Serve.Listen },
		set: func(c *Config, v string) error { c.Serve.Listen = v; return nil },
	},
	"eventstream.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.EventStream.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for eventstream.enabled: %w", err)
			}
			c.EventStream.Enabled = b
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"mcp.command": {
		get: func(c *Config) string { return c.MCP.Command },
		set: func(c *Config, v string) error { c.MCP.Command = v; return nil },
	},
}
