// Package service provides the chat orchestration used by the CLI and the
// server: turn execution, optimistic message state, persistence and the
// background work that follows a turn.
package service

import (
	"context"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// MessageStore persists messages. AddMessage assigns the server id.
type MessageStore interface {
	AddMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ConversationStore persists conversations. GetConversation returns an
// error wrapping models.ErrNotFound for unknown ids.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c models.Conversation) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// Store is everything ChatService needs from a persistence backend.
type Store interface {
	MessageStore
	ConversationStore
}
