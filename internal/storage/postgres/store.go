// Package postgres implements the storage interfaces on PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using GORM + Postgres.
type Store struct {
	db *gorm.DB
}

// New opens the database and runs auto-migrations.
func New(dsn string) (*Store, error) {
	gormLog := gormlogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&chatModel{}, &participantModel{}, &messageModel{}, &usageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateChat inserts a chat and its participants in one transaction.
func (s *Store) CreateChat(ctx context.Context, c *chat.Chat) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := toChatModel(c)
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		if len(c.Participants) == 0 {
			return nil
		}
		parts := make([]participantModel, len(c.Participants))
		for i, uid := range c.Participants {
			parts[i] = participantModel{ChatID: c.ID, UserID: uid}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&parts).Error
	})
}

// GetChat retrieves a chat with its participants.
func (s *Store) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	var m chatModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrNotFound
		}
		return nil, err
	}
	parts, err := s.participants(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return m.toDomain(parts[id]), nil
}

// ListChatsByUser returns every chat the user participates in, newest first.
func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]*chat.Chat, error) {
	var models []chatModel
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_participants p ON p.chat_id = chats.id").
		Where("p.user_id = ?", userID).
		Order("chats.created_at DESC, chats.id DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	parts, err := s.participants(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*chat.Chat, len(models))
	for i, m := range models {
		out[i] = m.toDomain(parts[m.ID])
	}
	return out, nil
}

// DeleteChat removes the chat row and its participants. Missing chats are a no-op.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&participantModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&chatModel{}).Error
	})
}

func (s *Store) participants(ctx context.Context, chatIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	var rows []participantModel
	err := s.db.WithContext(ctx).
		Where("chat_id IN ?", chatIDs).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ChatID] = append(out[r.ChatID], r.UserID)
	}
	return out, nil
}

// CreateMessage inserts an immutable message row.
func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) error {
	row := toMessageModel(m)
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListMessages returns a page of a chat's messages, oldest first. UUIDv7 ids
// break timestamp ties in insertion order.
func (s *Store) ListMessages(ctx context.Context, chatID string, offset, limit int) ([]*chat.Message, error) {
	var rows []messageModel
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Offset(offset).Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*chat.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// DeleteMessagesByChat removes every message of a chat.
func (s *Store) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&messageModel{}).Error
}

// CountUnanswered counts USER messages older than before with no ASSISTANT reply.
func (s *Store) CountUnanswered(ctx context.Context, before time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Where("role = ? AND created_at < ?", string(chat.RoleUser), before.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM messages r WHERE r.reply_to = messages.id AND r.role = ?)", string(chat.RoleAssistant)).
		Count(&n).Error
	return int(n), err
}

// CreateUsage appends a usage record.
func (s *Store) CreateUsage(ctx context.Context, r *chat.UsageRecord) error {
	row := usageModel{
		ID:        r.ID,
		UserID:    r.UserID,
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Model:     r.Model,
		Tokens:    r.Tokens,
		CreatedAt: r.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// DeleteUsageByChat removes every usage record attributed to a chat.
func (s *Store) DeleteUsageByChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&usageModel{}).Error
}

// SumUsageByUser returns the total tokens recorded for a user.
func (s *Store) SumUsageByUser(ctx context.Context, userID string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&usageModel{}).
		Select("COALESCE(SUM(tokens), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return int(total), err
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
