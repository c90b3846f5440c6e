package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/switchboard/internal/app"
	"github.com/raphaelgruber/switchboard/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Run the switchboard server. Clients stream turns over the websocket
endpoint /conversations/{id}/stream and read history and statistics over
plain HTTP.

Examples:
  switchboard serve
  switchboard serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default: SWITCHBOARD_SERVER_PORT or 8585)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := cfg.ServerPort
	if servePort != 0 {
		port = servePort
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	srv := server.New(a.Chat, a.Metrics, logger)
	return srv.Run(ctx, fmt.Sprintf(":%d", port))
}
