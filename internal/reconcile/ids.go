// Package reconcile keeps a conversation's message list consistent across
// optimistic inserts, streaming updates, persistence results and history
// refetches.
package reconcile

import (
	"strings"

	"github.com/google/uuid"
)

// Placeholder id prefixes. Server ids never start with "local-" or
// "unsaved-", so membership tests cannot confuse the namespaces.
const (
	UserPrefix    = "local-user-"
	AIPrefix      = "local-ai-"
	UnsavedPrefix = "unsaved-"
)

// NewUserID returns a placeholder id for an optimistic user message.
func NewUserID() string {
	return UserPrefix + uuid.NewString()
}

// NewAIID returns a placeholder id for an optimistic assistant message.
func NewAIID() string {
	return AIPrefix + uuid.NewString()
}

// NewUnsavedID returns an id for a message whose save failed.
func NewUnsavedID() string {
	return UnsavedPrefix + uuid.NewString()
}

// IsLocal reports whether id was minted on this side rather than assigned by
// the persistence backend.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, UserPrefix) ||
		strings.HasPrefix(id, AIPrefix) ||
		strings.HasPrefix(id, UnsavedPrefix)
}
