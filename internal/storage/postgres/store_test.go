package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	chat "github.com/kingidy/kingidy/internal"
)

// newTestStore connects to the database named by KINGIDY_TEST_POSTGRES_DSN.
// Tests use fresh UUIDs so they can share one database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KINGIDY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KINGIDY_TEST_POSTGRES_DSN not set")
	}
	s, err := New(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newID() string { return uuid.Must(uuid.NewV7()).String() }

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, other := newID(), newID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &chat.Chat{ID: newID(), OwnerID: owner, Participants: []string{owner, other}, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateChat(ctx, c); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.OwnerID != owner || len(got.Participants) != 2 {
		t.Errorf("got %+v", got)
	}

	chats, err := s.ListChatsByUser(ctx, other)
	if err != nil || len(chats) != 1 {
		t.Fatalf("list = %v, %v", chats, err)
	}

	in := &chat.Message{ID: newID(), ChatID: c.ID, UserID: &owner, Role: chat.RoleUser, Content: "q", Tokens: 1, CreatedAt: now}
	out := &chat.Message{ID: newID(), ChatID: c.ID, Role: chat.RoleAssistant, Content: "a", Tokens: 5,
		PromptTokens: chat.Ptr(1), ResponseTokens: chat.Ptr(4), ReplyTo: &in.ID, CreatedAt: now}
	for _, m := range []*chat.Message{in, out} {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateUsage(ctx, &chat.UsageRecord{ID: newID(), UserID: &owner, ChatID: c.ID, MessageID: m.ID, Model: "demo-model", Tokens: m.Tokens, CreatedAt: now}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ListMessages(ctx, c.ID, 0, 50)
	if err != nil || len(msgs) != 2 || msgs[0].ID != in.ID {
		t.Fatalf("messages = %v, %v", msgs, err)
	}
	if total, err := s.SumUsageByUser(ctx, owner); err != nil || total != 6 {
		t.Errorf("sum = %d, %v; want 6", total, err)
	}

	for range 2 {
		if err := s.DeleteMessagesByChat(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteUsageByChat(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteChat(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.GetChat(ctx, c.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if total, _ := s.SumUsageByUser(ctx, owner); total != 0 {
		t.Errorf("sum after delete = %d, want 0", total)
	}
}
