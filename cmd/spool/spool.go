// Package spoolcmder
package spoolcmder

import (
	authcmder "github.com/papercomputeco/spool/cmd/spool/auth"
	chatcmder "github.com/papercomputeco/spool/cmd/spool/chat"
	configcmder "github.com/papercomputeco/spool/cmd/spool/config"
	servecmder "github.com/papercomputeco/spool/cmd/spool/serve"
	versioncmder "github.com/papercomputeco/spool/cmd/spool/version"
	"github.com/spf13/cobra"
)

const spoolLongDesc string = `Spool is a streaming LLM completion orchestrator.

Chat locally or run the HTTP gateway:
  spool chat           Interactive streaming chat with tool use
  spool serve          Run the HTTP gateway
  spool auth           Store provider API credentials
  spool config         Manage persistent configuration`

const spoolShortDesc string = "Spool - streaming LLM orchestration"

func NewSpoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: spoolShortDesc,
		Long:  spoolLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .spool directory location")

	// Add subcommands
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
