package localdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/memory"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/service"
)

var (
	_ service.Store = (*Store)(nil)
	_ memory.Store  = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "switchboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConversations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetConversation(ctx, "c1")
	require.ErrorIs(t, err, models.ErrNotFound)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err = s.CreateConversation(ctx, models.Conversation{ID: "c1", UserID: "u1", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, models.Conversation{ID: "c2", UserID: "u1", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, models.Conversation{ID: "c3", UserID: "u2", CreatedAt: base})
	require.NoError(t, err)

	_, err = s.CreateConversation(ctx, models.Conversation{ID: "c1"})
	require.Error(t, err)

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(base))

	convs, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)

	require.NoError(t, s.UpdateConversationTitle(ctx, "c1", "Weekend plans"))
	convs, err = s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, "Weekend plans", convs[0].Title)

	require.ErrorIs(t, s.UpdateConversationTitle(ctx, "nope", "x"), models.ErrNotFound)
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	user, err := s.AddMessage(ctx, models.Message{
		ConversationID: "c1",
		Sender:         models.SenderUser,
		Text:           "build me a todo app",
		CreatedAt:      base,
		Status:         models.StatusPending,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Empty(t, user.Status)

	ai, err := s.AddMessage(ctx, models.Message{
		ConversationID: "c1",
		Sender:         models.SenderAI,
		Text:           "Here is the project.",
		Action:         models.ActionProject,
		ImageData:      "data:image/png;base64,AAAA",
		GroundingReferences: []models.GroundingReference{
			{Title: "MDN", URI: "https://developer.mozilla.org"},
		},
		Project: &models.Project{
			Name:  "todo-app",
			Files: []models.ProjectFile{{Path: "main.go", Language: "go", Content: "package main"}},
		},
		CreatedAt: base.Add(time.Millisecond),
	})
	require.NoError(t, err)

	// Same timestamp as the AI message; insertion order breaks the tie.
	last, err := s.AddMessage(ctx, models.Message{
		ConversationID: "c1",
		Sender:         models.SenderUser,
		Text:           "thanks",
		CreatedAt:      base.Add(time.Millisecond),
	})
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, models.Message{ConversationID: "other", Sender: models.SenderUser, Text: "x"})
	require.NoError(t, err)

	msgs, err := s.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	want := []models.Message{user, ai, last}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMessageRejectsUnknownSender(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddMessage(context.Background(), models.Message{ConversationID: "c1", Sender: "robot"})
	require.Error(t, err)
}

func TestMemories(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerFacts, Content: "Has a dog", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerFacts, Content: "Lives in Graz", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerProfile, Content: "Engineer", CreatedAt: base})
	require.NoError(t, err)

	dup, err := s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerFacts, Content: "Has a dog"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)
	assert.True(t, dup.CreatedAt.Equal(base))

	facts, err := s.ListMemories(ctx, "u1", models.LayerFacts, 10)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Lives in Graz", facts[0].Content)
	assert.Equal(t, "Has a dog", facts[1].Content)

	limited, err := s.ListMemories(ctx, "u1", models.LayerFacts, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListMemories(ctx, "u2", models.LayerFacts, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryServiceOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerPreferences, Content: "Prefers metric units"})
	require.NoError(t, err)

	svc := memory.NewService(s, nil, "", nil)
	mc, err := svc.GetContext(ctx, "u1", memory.DefaultLayers)
	require.NoError(t, err)
	assert.Equal(t, []string{"Prefers metric units"}, mc[models.LayerPreferences])
}

func TestWipeData(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateConversation(ctx, models.Conversation{ID: "c1", UserID: "u1", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, models.Message{ConversationID: "c1", Sender: models.SenderUser, Text: "hi"})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, models.Memory{UserID: "u1", Layer: models.LayerFacts, Content: "likes Go"})
	require.NoError(t, err)

	require.NoError(t, s.WipeData(ctx))

	convs, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, convs)
	msgs, err := s.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	mems, err := s.ListMemories(ctx, "u1", models.LayerFacts, 10)
	require.NoError(t, err)
	assert.Empty(t, mems)
}
