// Package storage defines persistence interfaces for the chat service.
// Stores persist what they are given; identities and timestamps are assigned
// by the caller.
package storage

import (
	"context"
	"time"

	chat "github.com/kingidy/kingidy/internal"
)

// ChatStore manages chat persistence.
type ChatStore interface {
	CreateChat(ctx context.Context, c *chat.Chat) error
	// GetChat returns chat.ErrNotFound when no chat has the given id.
	GetChat(ctx context.Context, id string) (*chat.Chat, error)
	// ListChatsByUser returns chats the user participates in, newest first.
	ListChatsByUser(ctx context.Context, userID string) ([]*chat.Chat, error)
	// DeleteChat removes the chat and its participants. Missing chats are a no-op.
	DeleteChat(ctx context.Context, id string) error
}

// MessageStore manages message persistence. Messages are never updated.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *chat.Message) error
	// ListMessages returns messages ordered by creation time ascending, ties
	// broken by insertion order.
	ListMessages(ctx context.Context, chatID string, offset, limit int) ([]*chat.Message, error)
	// DeleteMessagesByChat is a no-op when the chat has no messages.
	DeleteMessagesByChat(ctx context.Context, chatID string) error
	// CountUnanswered counts USER messages created before the cutoff that no
	// ASSISTANT message replies to.
	CountUnanswered(ctx context.Context, before time.Time) (int, error)
}

// UsageStore manages token usage records. Records are append-only.
type UsageStore interface {
	CreateUsage(ctx context.Context, r *chat.UsageRecord) error
	// DeleteUsageByChat is a no-op when the chat has no records.
	DeleteUsageByChat(ctx context.Context, chatID string) error
	// SumUsageByUser returns 0 when the user has no records.
	SumUsageByUser(ctx context.Context, userID string) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	ChatStore
	MessageStore
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
