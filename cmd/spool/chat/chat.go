// Package chatcmder provides the chat command for interactive streaming
// chat with tool use.
package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/credentials"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/orchestrator"
	"github.com/papercomputeco/spool/pkg/tools"
	"github.com/papercomputeco/spool/pkg/tools/mcp"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	providerName  string
	model         string
	maxToolRounds int
	maxTokens     int
	flushMs       int
	markdown      bool
	configDir     string
	debug         bool

	baseURL string
	mcpCfg  config.MCPConfig

	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive streaming chat session.

Messages stream to the terminal as they arrive, coalesced into small
batches. When the model calls tools, they run locally between rounds and
the conversation continues automatically.

Commands inside the session:
  /exit    Quit the session
  /retry   Drop the last exchange and re-send the previous message

Ctrl+C cancels the in-flight response without ending the session.

Examples:
  spool chat
  spool chat --provider anthropic
  spool chat --provider openai --model gpt-4o --markdown`

const chatShortDesc string = "Interactive streaming LLM chat with tool use"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("provider") {
				cmder.providerName = cfg.Chat.Provider
			}
			if !cmd.Flags().Changed("model") {
				cmder.model = cfg.Provider(cmder.providerName).Model
			}
			if !cmd.Flags().Changed("max-tool-rounds") {
				cmder.maxToolRounds = cfg.Chat.MaxToolRounds
			}
			if !cmd.Flags().Changed("max-tokens") {
				cmder.maxTokens = cfg.Chat.MaxTokens
			}
			cmder.flushMs = cfg.Chat.FlushIntervalMs
			cmder.baseURL = cfg.Provider(cmder.providerName).BaseURL
			cmder.mcpCfg = cfg.MCP
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
	cmd.Flags().StringVarP(&cmder.providerName, "provider", "p", defaults.Chat.Provider, "Provider to chat with (openai, anthropic)")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model name (defaults to the provider's configured model)")
	cmd.Flags().IntVar(&cmder.maxToolRounds, "max-tool-rounds", defaults.Chat.MaxToolRounds, "Maximum tool rounds per response")
	cmd.Flags().IntVar(&cmder.maxTokens, "max-tokens", 0, "Completion token cap per round (0 = provider default)")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render replies as markdown after completion instead of streaming raw text")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)

	creds, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	apiKey, err := creds.Resolve(c.providerName)
	if err != nil {
		return err
	}

	adapter, err := provider.New(c.providerName, provider.Config{
		APIKey:  apiKey,
		BaseURL: c.baseURL,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	if c.model == "" {
		return fmt.Errorf("no model configured for provider %q", c.providerName)
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.Clock()); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	if c.mcpCfg.Command != "" {
		var mcpClient *mcp.Client
		stepErr := cliui.Step(os.Stderr, "Connecting MCP tools", func() error {
			var cerr error
			mcpClient, cerr = c.connectMCP(registry)
			return cerr
		})
		if stepErr != nil {
			// MCP is optional; chat continues with built-in tools only.
			fmt.Fprintf(os.Stderr, "  %s MCP server unavailable: %v\n", cliui.WarnStyle.Render("!"), stepErr)
		} else {
			defer func() { _ = mcpClient.Close() }()
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Logger:        c.logger,
		FlushInterval: time.Duration(c.flushMs) * time.Millisecond,
		MaxToolRounds: c.maxToolRounds,
	})

	conversationID := uuid.NewString()

	// Ctrl+C cancels the active generation, not the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			orch.Controller().Cancel(conversationID)
		}
	}()

	fmt.Println()
	fmt.Printf("  %s %s %s\n",
		cliui.KeyStyle.Render("Provider:"),
		cliui.NameStyle.Render(c.providerName),
		cliui.DimStyle.Render("("+c.model+")"),
	)
	if registry.Len() > 0 {
		fmt.Printf("  %s %d available\n", cliui.KeyStyle.Render("Tools:"), registry.Len())
	}
	fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /retry re-sends, /exit or Ctrl+D quits."))

	var turns []llm.Turn
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}
		if input == "/retry" {
			trimmed := llm.DropTrailing(turns)
			if len(trimmed) == 0 || trimmed[len(trimmed)-1].Role != llm.RoleUser {
				fmt.Printf("  %s nothing to retry\n\n", cliui.DimStyle.Render("●"))
				continue
			}
			turns = c.generate(orch, adapter, conversationID, trimmed, registry)
			continue
		}

		turns = append(turns, llm.NewTextTurn(llm.RoleUser, input))
		turns = c.generate(orch, adapter, conversationID, turns, registry)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

func (c *chatCommander) connectMCP(registry *tools.Registry) (*mcp.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mcp.Connect(ctx, mcp.Config{
		Command: c.mcpCfg.Command,
		Args:    c.mcpCfg.Args,
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

// generate runs one full generation against the given history and returns
// the updated history. Errors and cancellations surface inline; the
// returned history always reflects what the orchestrator recorded.
func (c *chatCommander) generate(orch *orchestrator.Orchestrator, adapter provider.Adapter, conversationID string, turns []llm.Turn, registry *tools.Registry) []llm.Turn {
	fmt.Print(assistantPrompt)

	streaming := !c.markdown
	var onFlush orchestrator.PublishFunc
	if streaming {
		onFlush = func(content, reasoning string) {
			if reasoning != "" {
				fmt.Print(cliui.ReasonStyle.Render(reasoning))
			}
			if content != "" {
				fmt.Print(content)
			}
		}
	}

	gen, err := orch.Start(context.Background(), &orchestrator.Request{
		ConversationID: conversationID,
		Adapter:        adapter,
		Model:          c.model,
		Turns:          turns,
		Tools:          registry.Definitions(),
		Executor:       registry,
		MaxTokens:      c.maxTokens,
		OnFlush:        onFlush,
	})
	if err != nil {
		fmt.Printf("\n  %s %v\n\n", cliui.FailMark, err)
		return turns
	}

	<-gen.Done()

	result, genErr := gen.Result()
	updated := gen.Turns()

	if genErr != nil {
		fmt.Printf("\n  %s %v\n\n", cliui.FailMark, genErr)
		fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Use /retry to re-send the last message."))
		return updated
	}

	if gen.Cancelled() {
		fmt.Printf("\n  %s %s\n\n", cliui.DimStyle.Render("●"), cliui.DimStyle.Render("cancelled"))
		return updated
	}

	if c.markdown {
		rendered, rerr := cliui.RenderMarkdown(result.Content)
		if rerr != nil {
			rendered = result.Content
		}
		fmt.Print(rendered)
	}

	fmt.Println()
	if c.debug {
		fmt.Printf("  %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("rounds=%d tokens=%d first_token=%s total=%s",
				result.Rounds,
				result.Usage.TotalTokens,
				cliui.FormatDuration(result.FirstTokenLatency),
				cliui.FormatDuration(result.Duration),
			)),
		)
	}
	fmt.Println()

	return updated
}
