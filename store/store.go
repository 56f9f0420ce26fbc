// Package store persists chats and their messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a chat does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrForbidden is returned when a user acts on another user's chat.
	ErrForbidden = errors.New("chat belongs to another user")
)

// Chat is a chat session owned by one user.
type Chat struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"` // unix milliseconds
}

// Message is one persisted chat message.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"` // "user" | "assistant"
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"` // unix milliseconds
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    title       TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chats_by_user ON chats(user_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
    id          TEXT PRIMARY KEY,
    chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    role        TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_by_chat ON messages(chat_id, created_at);
`

// Store implements chat persistence on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateChat creates a chat for userID.
func (s *Store) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}
	chat := &Chat{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: s.now().UnixMilli(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}
	return chat, nil
}

// ListChats returns userID's chats, newest first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at
		FROM chats
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying chats")
	}
	defer rows.Close()

	chats := []*Chat{}
	for rows.Next() {
		c := &Chat{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning chat row")
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating chat rows")
	}
	return chats, nil
}

// GetChat returns a chat by ID.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	c := &Chat{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying chat")
	}
	return c, nil
}

// OwnedChat returns the chat if userID owns it.
func (s *Store) OwnedChat(ctx context.Context, userID, id string) (*Chat, error) {
	c, err := s.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

// DeleteChat deletes userID's chat and all its messages.
func (s *Store) DeleteChat(ctx context.Context, userID, id string) error {
	if _, err := s.OwnedChat(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting chat")
	}
	return nil
}

// ListMessages returns a chat's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at, rowid
	`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning message row")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating message rows")
	}
	return msgs, nil
}

// PersistUserMessage appends a user message to a chat.
func (s *Store) PersistUserMessage(ctx context.Context, chatID, content string) error {
	_, err := s.addMessage(ctx, chatID, "user", content)
	return err
}

// PersistAssistantMessage appends a message with the given role, which
// must be "user" or "assistant".
func (s *Store) PersistAssistantMessage(ctx context.Context, chatID, content, role string) error {
	_, err := s.AddMessage(ctx, chatID, role, content)
	return err
}

// AddMessage appends a message and returns it.
func (s *Store) AddMessage(ctx context.Context, chatID, role, content string) (*Message, error) {
	if role != "user" && role != "assistant" {
		return nil, errors.Errorf("invalid role %q", role)
	}
	return s.addMessage(ctx, chatID, role, content)
}

func (s *Store) addMessage(ctx context.Context, chatID, role, content string) (*Message, error) {
	m := &Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UnixMilli(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM chats WHERE id = ?)
	`, m.ID, m.ChatID, m.Role, m.Content, m.CreatedAt, chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "inserting %s message", role)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "checking insert")
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}
