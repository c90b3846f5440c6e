package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/llm/llmtest"
	"github.com/raphaelgruber/switchboard/internal/localdb"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/service"
)

func TestBuildRunsThinkTurnEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := localdb.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer store.Close()

	gen := llmtest.NewGenerator(llmtest.TextStream("Forty-two."))
	gen.QueueResponse(
		llmtest.Response{Text: `{"action": "think"}`},
		llmtest.Response{Text: "The answer"},
	)

	a := Build(config.Config{}, config.DefaultPrompts(), nil, nil, Backends{Store: store, Generator: gen})

	res, err := a.Chat.Send(ctx, service.SendRequest{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Prompt:         "What is the meaning of life?",
	}, service.Events{})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	assert.Equal(t, models.ActionThink, res.AIMessage.Action)
	assert.Equal(t, "Let me think this through carefully...\n\nForty-two.", res.AIMessage.Text)
	assert.Equal(t, models.StatusSaved, res.AIMessage.Status)
	assert.Equal(t, int64(1), a.Metrics.Usage("user-1", metrics.FeatureThink))

	msgs, err := store.GetMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, res.UserMessage.ID, msgs[0].ID)
	assert.Equal(t, res.AIMessage.ID, msgs[1].ID)

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "The answer", conv.Title)

	require.Len(t, gen.StreamCalls(), 1)
	assert.True(t, gen.StreamCalls()[0].Opts.Thinking)
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreBackend: config.StoreSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "nested", "data.db"),
	}
	store, closeStore, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	defer closeStore(ctx)

	_, err = store.CreateConversation(ctx, models.Conversation{ID: "c1"})
	require.NoError(t, err)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.Config{StoreBackend: "mongo"}, nil)
	require.ErrorContains(t, err, "unsupported store backend")
}
