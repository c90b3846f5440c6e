package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/switchboard/internal/app"
	"github.com/raphaelgruber/switchboard/internal/client"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/service"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// backend serves the commands either in-process or through a server.
type backend interface {
	Send(ctx context.Context, conversationID, prompt string, action models.ActionKind, out *renderer) (models.Message, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	Conversations(ctx context.Context, userID string) ([]models.Conversation, error)
	Stats(ctx context.Context) (*metrics.Snapshot, error)
	Close(ctx context.Context) error
}

// openBackend connects to --server when set and otherwise builds the app
// in-process from the environment configuration.
func openBackend(ctx context.Context) (backend, error) {
	if serverURL != "" {
		c := client.New(serverURL)
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Health(hctx); err != nil {
			return nil, fmt.Errorf("server not reachable at %s: %w", serverURL, err)
		}
		return &remoteBackend{client: c}, nil
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

type localBackend struct {
	app *app.App
}

func (b *localBackend) Send(ctx context.Context, conversationID, prompt string, action models.ActionKind, out *renderer) (models.Message, error) {
	res, err := b.app.Chat.Send(ctx, service.SendRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Prompt:         prompt,
		Action:         action,
	}, service.Events{
		OnChunk: func(chunk string) {
			if ev, ok := turn.ParseControlEvent(chunk); ok {
				out.control(ev)
				return
			}
			out.chunk(chunk)
		},
		OnWarning: out.warning,
	})
	if err != nil {
		return models.Message{}, err
	}
	return res.AIMessage, nil
}

func (b *localBackend) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := b.app.Chat.Refresh(ctx, conversationID); err != nil {
		return nil, err
	}
	return b.app.Chat.Messages(conversationID), nil
}

func (b *localBackend) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return b.app.Chat.Conversations(ctx, userID)
}

func (b *localBackend) Stats(context.Context) (*metrics.Snapshot, error) {
	snap := b.app.Metrics.Snapshot()
	return &snap, nil
}

func (b *localBackend) Close(ctx context.Context) error {
	return b.app.Close(ctx)
}

type remoteBackend struct {
	client *client.Client
}

func (b *remoteBackend) Send(ctx context.Context, conversationID, prompt string, action models.ActionKind, out *renderer) (models.Message, error) {
	res, err := b.client.Stream(ctx, conversationID, userID, prompt,
		func(chunk string) error {
			out.chunk(chunk)
			return nil
		},
		client.WithAction(action),
		client.OnControl(out.control),
		client.OnWarning(out.warning),
	)
	if err != nil {
		return models.Message{}, err
	}
	return res.Message, nil
}

func (b *remoteBackend) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return b.client.Messages(ctx, conversationID)
}

func (b *remoteBackend) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return b.client.Conversations(ctx, userID)
}

func (b *remoteBackend) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	return b.client.Stats(ctx)
}

func (b *remoteBackend) Close(context.Context) error { return nil }
