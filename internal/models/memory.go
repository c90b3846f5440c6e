package models

import "time"

// Memory layers consulted by default when building chat prompts.
const (
	LayerProfile     = "profile"
	LayerPreferences = "preferences"
	LayerFacts       = "facts"
)

// Memory is one remembered fact about a user.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Layer     string    `json:"layer"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryContext maps a layer name to its entries, newest first.
type MemoryContext map[string][]string

// Empty reports whether no layer has entries.
func (c MemoryContext) Empty() bool {
	for _, entries := range c {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}

// MemoryDirective asks the caller to extract memories from an exchange.
// It is descriptive; nothing is written until the caller acts on it.
type MemoryDirective struct {
	UserID   string `json:"user_id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}
