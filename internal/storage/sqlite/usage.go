package sqlite

import (
	"context"

	chat "github.com/kingidy/kingidy/internal"
)

// CreateUsage appends a usage record.
func (s *Store) CreateUsage(ctx context.Context, r *chat.UsageRecord) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO usage_records (id, user_id, chat_id, message_id, model, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullStr(r.UserID), r.ChatID, r.MessageID, r.Model, r.Tokens, formatTime(r.CreatedAt),
	)
	return err
}

// DeleteUsageByChat removes every usage record attributed to a chat.
func (s *Store) DeleteUsageByChat(ctx context.Context, chatID string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM usage_records WHERE chat_id = ?`, chatID)
	return err
}

// SumUsageByUser returns the total tokens recorded for a user.
func (s *Store) SumUsageByUser(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM usage_records WHERE user_id = ?`, userID,
	).Scan(&total)
	return total, err
}
