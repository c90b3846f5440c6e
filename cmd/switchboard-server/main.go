// Package main provides the HTTP and websocket server for switchboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/switchboard/internal/app"
	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/server"
)

type wiper interface {
	WipeData(ctx context.Context) error
}

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from the store on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLogger := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLogger() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *wipeDB || os.Getenv("SWITCHBOARD_WIPE_DB") == "true"); err != nil {
		logger.Error("server failed", "error", err)
		_ = closeLogger()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting switchboard-server",
		"port", cfg.ServerPort,
		"provider", cfg.LLMProvider,
		"store", cfg.StoreBackend)

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()

	if wipe {
		w, ok := a.Store.(wiper)
		if !ok {
			return fmt.Errorf("store %q does not support wiping", cfg.StoreBackend)
		}
		wipeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := w.WipeData(wipeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("wipe store: %w", err)
		}
	}

	srv := server.New(a.Chat, a.Metrics, logger)
	return srv.Run(ctx, fmt.Sprintf(":%d", cfg.ServerPort))
}
