// Package mcp bridges Model Context Protocol servers into the tool registry:
// each tool a connected server advertises becomes a registrable Tool whose
// executor proxies CallTool over the session.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/tools"
	"github.com/papercomputeco/spool/pkg/utils"
)

// Config describes how to reach an MCP server.
type Config struct {
	// Command and Args launch a stdio-transport server subprocess.
	Command string
	Args    []string

	Logger *slog.Logger
}

// Client wraps a connected MCP session.
type Client struct {
	session *sdk.ClientSession
	logger  *slog.Logger
}

// Connect launches the configured server and completes the MCP handshake.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("no MCP server command configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client := sdk.NewClient(&sdk.Implementation{
		Name:    "spool",
		Version: utils.Version,
	}, nil)

	transport := &sdk.CommandTransport{
		Command: exec.Command(cfg.Command, cfg.Args...),
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	return &Client{session: session, logger: logger}, nil
}

// Tools lists the server's tools as registrable executors.
func (c *Client) Tools(ctx context.Context) ([]tools.Tool, error) {
	listed, err := c.session.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing MCP tools: %w", err)
	}

	out := make([]tools.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		var schema json.RawMessage
		if t.InputSchema != nil {
			schema, err = json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema for MCP tool %s: %w", t.Name, err)
			}
		}

		name := t.Name
		out = append(out, tools.Tool{
			Definition: llm.ToolDefinition{
				Name:        name,
				Description: t.Description,
				Parameters:  schema,
			},
			Execute: func(ctx context.Context, argumentsJSON string) (string, error) {
				return c.call(ctx, name, argumentsJSON)
			},
		})
	}

	c.logger.Debug("listed MCP tools", "count", len(out))
	return out, nil
}

// call invokes one tool over the session and flattens its text content.
func (c *Client) call(ctx context.Context, name, argumentsJSON string) (string, error) {
	args := json.RawMessage(argumentsJSON)
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage("{}")
	}

	result, err := c.session.CallTool(ctx, &sdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling MCP tool %s: %w", name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", fmt.Errorf("MCP tool %s reported an error: %s", name, text)
	}
	return text, nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	return c.session.Close()
}
