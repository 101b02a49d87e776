package postgres

import (
	"time"

	chat "github.com/kingidy/kingidy/internal"
)

// GORM models used for persistence. Table names match the SQLite schema.

type chatModel struct {
	ID        string `gorm:"primaryKey"`
	Title     *string
	OwnerID   string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (chatModel) TableName() string { return "chats" }

type participantModel struct {
	ChatID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;index"`
}

func (participantModel) TableName() string { return "chat_participants" }

type messageModel struct {
	ID             string  `gorm:"primaryKey"`
	ChatID         string  `gorm:"not null;index:idx_messages_chat_created,priority:1"`
	UserID         *string
	Role           string `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`
	Model          *string
	Tokens         int `gorm:"not null;default:0"`
	PromptTokens   *int
	ResponseTokens *int
	ReplyTo        *string   `gorm:"index"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2"`
}

func (messageModel) TableName() string { return "messages" }

type usageModel struct {
	ID        string  `gorm:"primaryKey"`
	UserID    *string `gorm:"index"`
	ChatID    string  `gorm:"not null;index"`
	MessageID string  `gorm:"not null"`
	Model     string  `gorm:"not null"`
	Tokens    int     `gorm:"not null"`
	CreatedAt time.Time
}

func (usageModel) TableName() string { return "usage_records" }

func toChatModel(c *chat.Chat) chatModel {
	return chatModel{ID: c.ID, Title: c.Title, OwnerID: c.OwnerID, CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC()}
}

func (m chatModel) toDomain(participants []string) *chat.Chat {
	if participants == nil {
		participants = []string{}
	}
	return &chat.Chat{
		ID:           m.ID,
		Title:        m.Title,
		OwnerID:      m.OwnerID,
		Participants: participants,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func toMessageModel(m *chat.Message) messageModel {
	return messageModel{
		ID:             m.ID,
		ChatID:         m.ChatID,
		UserID:         m.UserID,
		Role:           string(m.Role),
		Content:        m.Content,
		Model:          m.Model,
		Tokens:         m.Tokens,
		PromptTokens:   m.PromptTokens,
		ResponseTokens: m.ResponseTokens,
		ReplyTo:        m.ReplyTo,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func (m messageModel) toDomain() *chat.Message {
	return &chat.Message{
		ID:             m.ID,
		ChatID:         m.ChatID,
		UserID:         m.UserID,
		Role:           chat.Role(m.Role),
		Content:        m.Content,
		Model:          m.Model,
		Tokens:         m.Tokens,
		PromptTokens:   m.PromptTokens,
		ResponseTokens: m.ResponseTokens,
		ReplyTo:        m.ReplyTo,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}
