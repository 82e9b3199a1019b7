// LLM Select Chat: a chat front end for Azure-hosted OpenAI and Anthropic
// deployments in Japan East and East US2.
//
// The serve command runs the web UI and JSON API. The other commands read
// and edit the same chat log directly, so they work with or without a
// running server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/llmselect/llmselect-chat/internal/config"
	"github.com/llmselect/llmselect-chat/internal/logging"
	"github.com/llmselect/llmselect-chat/pkg/server"
)

var (
	envFile string
	verbose bool

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "llmchat",
	Short:         "Chat with Azure OpenAI and Anthropic deployments",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg = config.Load()

		// Only the server logs at the configured level; other commands stay
		// quiet unless asked.
		if cmd.Name() != "serve" && !verbose {
			cfg.Logging.Level = "warn"
		}
		logCloser = logging.Setup(cfg.Logging)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level for every command")
}

// openCore opens the chat log and catalog without starting HTTP.
func openCore(ctx context.Context) (*server.Core, error) {
	return server.Open(ctx, cfg, nil, nil)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
