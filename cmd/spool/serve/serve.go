// Package servecmder provides the serve command for running the HTTP gateway.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/gateway"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/credentials"
	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/eventstream/kafka"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/orchestrator"
	"github.com/papercomputeco/spool/pkg/tools"
	"github.com/papercomputeco/spool/pkg/tools/mcp"
)

type serveCommander struct {
	listen        string
	maxToolRounds int
	debug         bool
	configDir     string

	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run the HTTP gateway.

The gateway exposes the orchestrator over HTTP:
  POST   /v1/chat                 Start a generation (JSON or SSE streaming)
  DELETE /v1/chat/:conversation   Cancel the conversation's active generation
  GET    /healthz                 Liveness check

Adapters are created for every provider with a resolvable credential.
Completed generations are published to Kafka when eventstream.enabled is set.

Examples:
  spool serve
  spool serve --listen :9090`

const serveShortDesc string = "Run the spool HTTP gateway"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cmder.cfg, err = cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("listen") {
				cmder.listen = cmder.cfg.Serve.Listen
			}
			if !cmd.Flags().Changed("max-tool-rounds") {
				cmder.maxToolRounds = cmder.cfg.Chat.MaxToolRounds
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", defaults.Serve.Listen, "Address for the gateway to listen on")
	cmd.Flags().IntVar(&cmder.maxToolRounds, "max-tool-rounds", defaults.Chat.MaxToolRounds, "Maximum tool rounds per generation")

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))

	adapters, models, err := c.buildAdapters()
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no provider credentials available; run 'spool auth <provider>' first")
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.Clock()); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	if c.cfg.MCP.Command != "" {
		mcpClient, err := c.connectMCP(registry)
		if err != nil {
			c.logger.Warn("MCP server unavailable, continuing without it", "error", err)
		} else {
			defer func() { _ = mcpClient.Close() }()
		}
	}

	publisher, err := c.buildPublisher()
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
	}

	orch := orchestrator.New(orchestrator.Config{
		Logger:        c.logger,
		FlushInterval: time.Duration(c.cfg.Chat.FlushIntervalMs) * time.Millisecond,
		MaxToolRounds: c.maxToolRounds,
		Publisher:     publisher,
	})

	defaultProvider := c.cfg.Chat.Provider
	if _, ok := adapters[defaultProvider]; !ok {
		// Fall back to any provider we could authenticate.
		for name := range adapters {
			defaultProvider = name
			break
		}
	}

	gw, err := gateway.New(gateway.Config{
		ListenAddr:      c.listen,
		DefaultProvider: defaultProvider,
		Adapters:        adapters,
		Models:          models,
		Tools:           registry.Definitions(),
		Executor:        registry,
		MaxTokens:       c.cfg.Chat.MaxTokens,
		Logger:          c.logger,
	}, orch)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() { _ = gw.Close() }()

	c.logger.Info("starting gateway",
		"listen", c.listen,
		"default_provider", defaultProvider,
		"providers", len(adapters),
		"tools", registry.Len(),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := gw.Run(); err != nil {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

// buildAdapters creates an adapter for every supported provider with a
// resolvable credential. Providers without credentials are skipped.
func (c *serveCommander) buildAdapters() (map[string]provider.Adapter, map[string]string, error) {
	creds, err := credentials.NewManager(c.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading credentials: %w", err)
	}

	adapters := make(map[string]provider.Adapter)
	models := make(map[string]string)

	for _, name := range provider.SupportedProviders() {
		apiKey, err := creds.Resolve(name)
		if err != nil {
			c.logger.Debug("skipping provider without credential", "provider", name)
			continue
		}

		adapter, err := provider.New(name, provider.Config{
			APIKey:  apiKey,
			BaseURL: c.cfg.Provider(name).BaseURL,
			Logger:  c.logger,
		})
		if err != nil {
			return nil, nil, err
		}

		adapters[name] = adapter
		models[name] = c.cfg.Provider(name).Model
	}

	return adapters, models, nil
}

func (c *serveCommander) buildPublisher() (eventstream.Publisher, error) {
	if !c.cfg.EventStream.Enabled {
		return nil, nil
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: c.cfg.EventStream.Brokers,
		Topic:   c.cfg.EventStream.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	c.logger.Info("publishing generation events",
		"brokers", c.cfg.EventStream.Brokers,
		"topic", c.cfg.EventStream.Topic,
	)
	return publisher, nil
}

func (c *serveCommander) connectMCP(registry *tools.Registry) (*mcp.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mcp.Connect(ctx, mcp.Config{
		Command: c.cfg.MCP.Command,
		Args:    c.cfg.MCP.Args,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, err
	}

	mcpTools, err := client.Tools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	for _, t := range mcpTools {
		if err := registry.Register(t); err != nil {
			c.logger.Warn("skipping MCP tool", "tool", t.Definition.Name, "error", err)
		}
	}

	return client, nil
}
