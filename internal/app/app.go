// Package app wires the switchboard services together. Every service is
// constructed once per process and shared by all conversations.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/db"
	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/localdb"
	"github.com/raphaelgruber/switchboard/internal/memory"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/research"
	"github.com/raphaelgruber/switchboard/internal/router"
	"github.com/raphaelgruber/switchboard/internal/service"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// Store is everything the app persists: conversations, messages and memories.
type Store interface {
	service.Store
	memory.Store
}

// Backends are the external collaborators of an App. Images may be nil.
type Backends struct {
	Store     Store
	Generator llm.Generator
	Images    llm.ImageGenerator
}

// App holds all dependencies.
type App struct {
	Config     config.Config
	Prompts    config.Prompts
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Store      Store
	Memory     *memory.Service
	Controller *turn.Controller
	Chat       *service.ChatService

	closers []func(context.Context) error
}

// New connects the configured store and generation backends and builds the app.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	mc := metrics.NewCollector()

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gen, images, err := llm.New(ctx, cfg, mc)
	if err != nil {
		_ = closeStore(ctx)
		return nil, err
	}

	a := Build(cfg, prompts, logger, mc, Backends{Store: store, Generator: gen, Images: images})
	a.closers = append(a.closers, closeStore)
	return a, nil
}

// Build assembles an app from already constructed backends.
func Build(cfg config.Config, prompts config.Prompts, logger *slog.Logger, mc *metrics.Collector, b Backends) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewCollector()
	}

	mem := memory.NewService(b.Store, b.Generator, prompts.Memory, logger.With("component", "memory"))
	researcher := research.NewService(b.Generator, research.Options{
		SystemInstruction: prompts.Research,
		Logger:            logger.With("component", "research"),
		Metrics:           mc,
	})
	classifier := router.NewLLMClassifier(b.Generator, prompts.Router, logger.With("component", "router"), mc)

	deps := turn.Deps{
		Generator:  b.Generator,
		Images:     b.Images,
		Research:   researcher,
		Memory:     mem,
		Usage:      mc,
		Prompts:    prompts,
		ImageModel: cfg.ImageModel,
		Logger:     logger.With("component", "turn"),
	}
	controller := turn.NewController(classifier, deps)

	chat := service.NewChatService(controller, b.Store, service.ChatOptions{
		Memory:       mem,
		Titles:       b.Generator,
		TitlePrompt:  prompts.Title,
		SendCooldown: cfg.SendCooldown,
		Metrics:      mc,
		Logger:       logger.With("component", "chat"),
	})

	return &App{
		Config:     cfg,
		Prompts:    prompts,
		Logger:     logger,
		Metrics:    mc,
		Store:      b.Store,
		Memory:     mem,
		Controller: controller,
		Chat:       chat,
	}
}

// OpenStore connects the configured persistence backend. The returned func
// closes it.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, err
		}
		return client, client.Close, nil

	case config.StoreSQLite, "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		s, err := localdb.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func(context.Context) error { return s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}

// Close waits for background jobs and closes all connections.
func (a *App) Close(ctx context.Context) error {
	a.Chat.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
