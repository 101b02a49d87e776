package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	chat "github.com/kingidy/kingidy/internal"
)

// CreateChat inserts a chat and its participants in one transaction.
func (s *Store) CreateChat(ctx context.Context, c *chat.Chat) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, title, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, nullStr(c.Title), c.OwnerID, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chat_participants (chat_id, user_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, uid := range c.Participants {
		if _, err := stmt.ExecContext(ctx, c.ID, uid); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return tx.Commit()
}

// GetChat retrieves a chat with its participants.
func (s *Store) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, title, owner_id, created_at, updated_at FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if err := s.loadParticipants(ctx, []*chat.Chat{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListChatsByUser returns every chat the user participates in, newest first.
func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]*chat.Chat, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT c.id, c.title, c.owner_id, c.created_at, c.updated_at
		 FROM chats c JOIN chat_participants p ON p.chat_id = c.id
		 WHERE p.user_id = ?
		 ORDER BY c.created_at DESC, c.rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadParticipants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteChat removes the chat row and its participants. Missing chats are a no-op.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// loadParticipants fills Participants for the given chats with one query.
func (s *Store) loadParticipants(ctx context.Context, chats []*chat.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	byID := make(map[string]*chat.Chat, len(chats))
	placeholders := make([]string, len(chats))
	args := make([]any, len(chats))
	for i, c := range chats {
		byID[c.ID] = c
		c.Participants = []string{}
		placeholders[i] = "?"
		args[i] = c.ID
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT chat_id, user_id FROM chat_participants WHERE chat_id IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY user_id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var chatID, userID string
		if err := rows.Scan(&chatID, &userID); err != nil {
			return err
		}
		if c, ok := byID[chatID]; ok {
			c.Participants = append(c.Participants, userID)
		}
	}
	return rows.Err()
}

func scanChat(sc scanner) (*chat.Chat, error) {
	var c chat.Chat
	var title sql.NullString
	var createdAt, updatedAt string
	if err := sc.Scan(&c.ID, &title, &c.OwnerID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Title = strPtr(title)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}
