package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
)

// MessageStore implements oasis.MessageStore backed by SQLite, sharing the
// connection handed to Store/MemoryStore.
type MessageStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ oasis.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a MessageStore using an existing *sql.DB.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db, logger: nopLogger}
}

// Init creates the messages table.
func (s *MessageStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: messages init: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at)`)
	return nil
}

// AppendMessage inserts one message record.
func (s *MessageStore) AppendMessage(ctx context.Context, msg oasis.ChatMessageRecord) error {
	if msg.ID == "" {
		msg.ID = oasis.NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = oasis.NowUnix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent limit messages for conversationID in
// chronological order.
func (s *MessageStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]oasis.ChatMessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var out []oasis.ChatMessageRecord
	for rows.Next() {
		var m oasis.ChatMessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		out = append(out, m)
	}
	// Reverse to chronological order (query returned newest-first for the
	// LIMIT to bound correctly).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
