// Package cli provides the command-line interface for switchboard.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/switchboard/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userID    string

	// Global config and logger
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Conversational assistant that routes each turn to the right action",
	Long: `Switchboard is a conversational assistant. Each message is routed to an
action (plain answer, web search, deep research, extended thinking, image
generation, project scaffolding, canvas documents or study plans) and the
model can hand a turn over to another action mid-answer.

Commands run in-process against the local store by default. Pass --server
to talk to a running switchboard server instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		if cmd == serveCmd {
			level = cfg.LogLevel
		}
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		if userID == "" {
			userID = os.Getenv("USER")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "switchboard server URL (default: run in-process)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id (default: $USER)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(serveCmd)
}
