package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/storage"
)

// Demo seed values.
const (
	DemoUserID       = "00000000-0000-0000-0000-000000000000"
	DemoChatTitle    = "Welcome Chat"
	DemoGreeting     = "Welcome to Kingidy chat!"
	demoGreetingCost = 1
)

// Bootstrap seeds the demo chat on first run. It is a no-op when the demo
// user already has a chat or when demo seeding is disabled.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	if !cfg.Bootstrap.Demo {
		return nil
	}

	existing, err := store.ListChatsByUser(ctx, DemoUserID)
	if err != nil {
		return fmt.Errorf("bootstrap: list demo chats: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	c := &chat.Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Title:        chat.Ptr(DemoChatTitle),
		OwnerID:      DemoUserID,
		Participants: []string{DemoUserID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateChat(ctx, c); err != nil {
		return fmt.Errorf("bootstrap: create demo chat: %w", err)
	}

	m := &chat.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    c.ID,
		UserID:    chat.Ptr(DemoUserID),
		Role:      chat.RoleSystem,
		Content:   DemoGreeting,
		Tokens:    demoGreetingCost,
		CreatedAt: now,
	}
	if err := store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("bootstrap: create demo message: %w", err)
	}

	slog.LogAttrs(ctx, slog.LevelInfo, "bootstrapped demo chat",
		slog.String("chat_id", c.ID),
		slog.String("user_id", DemoUserID),
	)
	return nil
}
