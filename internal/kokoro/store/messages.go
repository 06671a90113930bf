package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserSpeaker marks a message authored by the user rather than a persona.
const UserSpeaker = "user"

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	// Speaker is UserSpeaker or a persona name.
	Speaker string
	// Mode is the response mode for persona messages ("primary",
	// "addition", "rebuttal", "debate"); empty for user messages.
	Mode      string
	Challenge bool
	Content   string
	CreatedAt time.Time
}

// AppendMessage records a message. A missing ID is generated; the caller
// keeps the filled-in struct.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	var mode sql.NullString
	if m.Mode != "" {
		mode = sql.NullString{String: m.Mode, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, speaker, mode, challenge, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.UserID, m.Speaker, mode, m.Challenge, m.Content, m.CreatedAt); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages of the
// conversation in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, speaker, mode, challenge, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var mode sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Speaker, &mode, &m.Challenge, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Mode = mode.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}

	// Rows arrive newest first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountUserTurns returns how many user messages the conversation holds.
// The grounding classifier uses it to spot first contact.
func (s *Store) CountUserTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND speaker = ?
	`, conversationID, UserSpeaker).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count user turns: %w", err)
	}
	return n, nil
}
