package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// conversationRecord is the stored form of models.Conversation.
type conversationRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (r conversationRecord) model() (models.Conversation, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Conversation{}, err
	}
	return models.Conversation{
		ID:        id,
		UserID:    r.UserID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// messageRecord is the stored form of models.Message.
type messageRecord struct {
	ID                  surrealmodels.RecordID      `json:"id"`
	Conversation        surrealmodels.RecordID      `json:"conversation"`
	Sender              string                      `json:"sender"`
	Text                string                      `json:"text"`
	Action              *string                     `json:"action,omitempty"`
	ImageData           *string                     `json:"image_data,omitempty"`
	GroundingReferences []models.GroundingReference `json:"grounding_references"`
	Plan                *models.StudyPlan           `json:"plan,omitempty"`
	Project             *models.Project             `json:"project,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
}

func (r messageRecord) model() (models.Message, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Message{}, err
	}
	convID, err := recordIDString(r.Conversation)
	if err != nil {
		return models.Message{}, err
	}
	m := models.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         models.Sender(r.Sender),
		Text:           r.Text,
		Plan:           r.Plan,
		Project:        r.Project,
		CreatedAt:      r.CreatedAt,
	}
	if r.Action != nil {
		m.Action = models.ActionKind(*r.Action)
	}
	if r.ImageData != nil {
		m.ImageData = *r.ImageData
	}
	if len(r.GroundingReferences) > 0 {
		m.GroundingReferences = r.GroundingReferences
	}
	return m, nil
}

// memoryRecord is the stored form of models.Memory.
type memoryRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	Layer     string                 `json:"layer"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r memoryRecord) model() (models.Memory, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Memory{}, err
	}
	return models.Memory{
		ID:        id,
		UserID:    r.UserID,
		Layer:     r.Layer,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}, nil
}

// recordIDString extracts the string key of a RecordID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// firstResult returns the rows of the first statement of a query.
func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateConversation creates a conversation under the caller's id.
// Returns ErrAlreadyExists if the id is taken.
func (c *Client) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	results, err := surrealdb.Query[[]conversationRecord](ctx, c.db, `
		CREATE type::record("conversation", $id) SET
			user_id = $user,
			title = $title,
			created_at = $created,
			updated_at = $updated
		RETURN AFTER
	`, map[string]any{
		"id":      conv.ID,
		"user":    conv.UserID,
		"title":   conv.Title,
		"created": conv.CreatedAt,
		"updated": conv.UpdatedAt,
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return models.Conversation{}, fmt.Errorf("create conversation: no result returned")
	}
	return rows[0].model()
}

// GetConversation retrieves a conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRecord](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return rows[0].model()
}

// ListConversations returns a user's conversations, most recently updated first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRecord](ctx, c.db, `
		SELECT * FROM conversation WHERE user_id = $user ORDER BY updated_at DESC
	`, map[string]any{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	rows := firstResult(results)
	convs := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		conv, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// UpdateConversationTitle sets a conversation's title.
func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) error {
	results, err := surrealdb.Query[[]conversationRecord](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET
			title = $title,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{"id": id, "title": title})
	if err != nil {
		return fmt.Errorf("update conversation title: %w", wrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddMessage stores one message and returns it with its server-assigned id.
// The conversation's updated_at is bumped in the same query.
func (c *Client) AddMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	grounding := m.GroundingReferences
	if grounding == nil {
		grounding = []models.GroundingReference{}
	}

	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		CREATE message SET
			conversation = type::record("conversation", $conv),
			sender = $sender,
			text = $text,
			action = $action,
			image_data = $image,
			grounding_references = $grounding,
			plan = $plan,
			project = $project,
			created_at = $created
		RETURN AFTER;
		UPDATE type::record("conversation", $conv) SET updated_at = time::now();
	`, map[string]any{
		"conv":      m.ConversationID,
		"sender":    string(m.Sender),
		"text":      m.Text,
		"action":    optional(string(m.Action)),
		"image":     optional(m.ImageData),
		"grounding": grounding,
		"plan":      m.Plan,
		"project":   m.Project,
		"created":   m.CreatedAt,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("add message: %w", wrapQueryError(err))
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return models.Message{}, fmt.Errorf("add message: no result returned")
	}
	return rows[0].model()
}

// GetMessages returns a conversation's messages in creation order.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		SELECT * FROM message
		WHERE conversation = type::record("conversation", $conv)
		ORDER BY created_at ASC, id ASC
	`, map[string]any{"conv": conversationID})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	rows := firstResult(results)
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("get messages: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AddMemory stores a memory entry. An identical entry for the same user and
// layer is returned instead of being duplicated.
func (c *Client) AddMemory(ctx context.Context, m models.Memory) (models.Memory, error) {
	vars := map[string]any{
		"user":    m.UserID,
		"layer":   m.Layer,
		"content": m.Content,
	}

	existing, err := surrealdb.Query[[]memoryRecord](ctx, c.db, `
		SELECT * FROM memory
		WHERE user_id = $user AND layer = $layer AND content = $content
		LIMIT 1
	`, vars)
	if err != nil {
		return models.Memory{}, fmt.Errorf("find memory: %w", err)
	}
	if rows := firstResult(existing); len(rows) > 0 {
		return rows[0].model()
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	vars["created"] = m.CreatedAt

	results, err := surrealdb.Query[[]memoryRecord](ctx, c.db, `
		CREATE memory SET
			user_id = $user,
			layer = $layer,
			content = $content,
			created_at = $created
		RETURN AFTER
	`, vars)
	if err != nil {
		return models.Memory{}, fmt.Errorf("add memory: %w", wrapQueryError(err))
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return models.Memory{}, fmt.Errorf("add memory: no result returned")
	}
	return rows[0].model()
}

// ListMemories returns up to limit entries of one layer, newest first.
func (c *Client) ListMemories(ctx context.Context, userID, layer string, limit int) ([]models.Memory, error) {
	results, err := surrealdb.Query[[]memoryRecord](ctx, c.db, `
		SELECT * FROM memory
		WHERE user_id = $user AND layer = $layer
		ORDER BY created_at DESC
		LIMIT $limit
	`, map[string]any{"user": userID, "layer": layer, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	rows := firstResult(results)
	mems := make([]models.Memory, 0, len(rows))
	for _, r := range rows {
		mem, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("list memories: %w", err)
		}
		mems = append(mems, mem)
	}
	return mems, nil
}
