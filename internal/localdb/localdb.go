// Package localdb is a single-file SQLite store for conversations, messages
// and memories. It needs no server and is the default backend of the CLI.
package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// Schema creates all tables. Safe to apply on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT UNIQUE NOT NULL,
	conversation_id TEXT NOT NULL,
	sender          TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
	text            TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL DEFAULT '',
	image_data      TEXT NOT NULL DEFAULT '',
	grounding       TEXT NOT NULL DEFAULT '[]',
	plan            TEXT,
	project         TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	layer      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (user_id, layer, content)
);
CREATE INDEX IF NOT EXISTS idx_memories_user_layer ON memories(user_id, layer, created_at);
`

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WipeData deletes every row. Intended for tests and local resets.
func (s *Store) WipeData(ctx context.Context) error {
	for _, table := range []string{"messages", "memories", "conversations"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// CreateConversation inserts a conversation under the caller's id.
func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation or an error wrapping
// models.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversationTitle sets a conversation's title.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (models.Conversation, error) {
	var c models.Conversation
	var created, updated string
	if err := sc.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
		return models.Conversation{}, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

// AddMessage stores one message under a fresh id and returns it.
func (s *Store) AddMessage(ctx context.Context, m models.Message) (models.Message, error) {
	m.ID = uuid.New().String()
	m.Status = ""
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	grounding := m.GroundingReferences
	if grounding == nil {
		grounding = []models.GroundingReference{}
	}
	groundingJSON, err := json.Marshal(grounding)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode grounding: %w", err)
	}
	planJSON, err := nullableJSON(m.Plan)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode plan: %w", err)
	}
	projectJSON, err := nullableJSON(m.Project)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode project: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, text, action, image_data, grounding, plan, project, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Sender), m.Text, string(m.Action), m.ImageData,
		string(groundingJSON), planJSON, projectJSON, formatTime(m.CreatedAt))
	if err != nil {
		return models.Message{}, fmt.Errorf("add message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), m.ConversationID); err != nil {
		return models.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("add message: %w", err)
	}
	return m, nil
}

// GetMessages returns a conversation's messages in creation order.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, text, action, image_data, grounding, plan, project, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m              models.Message
			sender, action string
			grounding      string
			plan, project  sql.NullString
			created        string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Text, &action, &m.ImageData,
			&grounding, &plan, &project, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = models.Sender(sender)
		m.Action = models.ActionKind(action)
		m.CreatedAt = parseTime(created)

		if err := json.Unmarshal([]byte(grounding), &m.GroundingReferences); err != nil {
			return nil, fmt.Errorf("decode grounding of %s: %w", m.ID, err)
		}
		if len(m.GroundingReferences) == 0 {
			m.GroundingReferences = nil
		}
		if plan.Valid {
			m.Plan = &models.StudyPlan{}
			if err := json.Unmarshal([]byte(plan.String), m.Plan); err != nil {
				return nil, fmt.Errorf("decode plan of %s: %w", m.ID, err)
			}
		}
		if project.Valid {
			m.Project = &models.Project{}
			if err := json.Unmarshal([]byte(project.String), m.Project); err != nil {
				return nil, fmt.Errorf("decode project of %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// AddMemory stores a memory entry. An identical entry for the same user and
// layer is returned instead of being duplicated.
func (s *Store) AddMemory(ctx context.Context, m models.Memory) (models.Memory, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, layer, content, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, layer, content) DO NOTHING`,
		id, m.UserID, m.Layer, m.Content, formatTime(m.CreatedAt))
	if err != nil {
		return models.Memory{}, fmt.Errorf("add memory: %w", err)
	}

	var created string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM memories WHERE user_id = ? AND layer = ? AND content = ?`,
		m.UserID, m.Layer, m.Content).Scan(&m.ID, &created)
	if err != nil {
		return models.Memory{}, fmt.Errorf("add memory: %w", err)
	}
	m.CreatedAt = parseTime(created)
	return m, nil
}

// ListMemories returns up to limit entries of one layer, newest first.
func (s *Store) ListMemories(ctx context.Context, userID, layer string, limit int) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, layer, content, created_at FROM memories
		 WHERE user_id = ? AND layer = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, layer, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		var m models.Memory
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Layer, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
