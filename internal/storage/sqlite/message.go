package sqlite

import (
	"context"
	"database/sql"
	"time"

	chat "github.com/kingidy/kingidy/internal"
)

// CreateMessage inserts an immutable message row.
func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, content, model,
		 tokens, prompt_tokens, response_tokens, reply_to, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, nullStr(m.UserID), string(m.Role), m.Content, nullStr(m.Model),
		m.Tokens, nullInt(m.PromptTokens), nullInt(m.ResponseTokens), nullStr(m.ReplyTo),
		formatTime(m.CreatedAt),
	)
	return err
}

// ListMessages returns a page of a chat's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string, offset, limit int) ([]*chat.Message, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, chat_id, user_id, role, content, model,
		 tokens, prompt_tokens, response_tokens, reply_to, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessagesByChat removes every message of a chat.
func (s *Store) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

// CountUnanswered counts USER messages older than before with no ASSISTANT reply.
func (s *Store) CountUnanswered(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.role = ? AND m.created_at < ?
		 AND NOT EXISTS (
		     SELECT 1 FROM messages r WHERE r.reply_to = m.id AND r.role = ?
		 )`,
		string(chat.RoleUser), formatTime(before), string(chat.RoleAssistant),
	).Scan(&n)
	return n, err
}

func scanMessage(sc scanner) (*chat.Message, error) {
	var m chat.Message
	var userID, model, replyTo sql.NullString
	var prompt, response sql.NullInt64
	var role, createdAt string
	err := sc.Scan(&m.ID, &m.ChatID, &userID, &role, &m.Content, &model,
		&m.Tokens, &prompt, &response, &replyTo, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Role = chat.Role(role)
	m.UserID = strPtr(userID)
	m.Model = strPtr(model)
	m.PromptTokens = intPtr(prompt)
	m.ResponseTokens = intPtr(response)
	m.ReplyTo = strPtr(replyTo)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}
