package models

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageStatus tracks where a message is in the optimistic/persisted lifecycle.
// It is local state and never written to storage.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"   // optimistic, not yet streamed or saved
	StatusStreaming MessageStatus = "streaming" // assistant placeholder receiving chunks
	StatusSaved     MessageStatus = "saved"     // server-confirmed record
	StatusUnsaved   MessageStatus = "unsaved"   // save failed; kept locally
)

// GroundingReference is a web source backing part of an answer.
type GroundingReference struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// Message is one exchange unit in a conversation.
type Message struct {
	ID                  string               `json:"id"`
	ConversationID      string               `json:"conversation_id"`
	Sender              Sender               `json:"sender"`
	Text                string               `json:"text"`
	Action              ActionKind           `json:"action,omitempty"`
	ImageData           string               `json:"image_data,omitempty"`
	GroundingReferences []GroundingReference `json:"grounding_references,omitempty"`
	Plan                *StudyPlan           `json:"plan,omitempty"`
	Project             *Project             `json:"project,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	Status              MessageStatus        `json:"status,omitempty"`
}

// Clone returns a copy that shares no slices or pointers with m.
func (m Message) Clone() Message {
	out := m
	if m.GroundingReferences != nil {
		out.GroundingReferences = append([]GroundingReference(nil), m.GroundingReferences...)
	}
	if m.Plan != nil {
		p := m.Plan.Clone()
		out.Plan = &p
	}
	if m.Project != nil {
		p := m.Project.Clone()
		out.Project = &p
	}
	return out
}
