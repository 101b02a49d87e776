package testutil

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// ErrInjected is returned by FakeStore operations named in FailOn.
var ErrInjected = errors.New("injected storage failure")

// FakeStore is an in-memory implementation of storage.Store for testing.
// Set FailOn[<method name>] to make that method return ErrInjected.
type FakeStore struct {
	mu       sync.RWMutex
	chats    map[string]*chat.Chat
	messages []*chat.Message
	usage    []*chat.UsageRecord
	FailOn   map[string]bool
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		chats:  make(map[string]*chat.Chat),
		FailOn: make(map[string]bool),
	}
}

// Fail makes the named method return ErrInjected.
func (s *FakeStore) Fail(method string) {
	s.mu.Lock()
	s.FailOn[method] = true
	s.mu.Unlock()
}

func (s *FakeStore) failing(method string) bool {
	return s.FailOn[method]
}

// AddChat inserts a chat directly.
func (s *FakeStore) AddChat(c *chat.Chat) {
	s.mu.Lock()
	cp := *c
	s.chats[c.ID] = &cp
	s.mu.Unlock()
}

// Messages returns every stored message for a chat in insertion order.
func (s *FakeStore) Messages(chatID string) []*chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Usage returns every stored usage record for a chat.
func (s *FakeStore) Usage(chatID string) []*chat.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.UsageRecord
	for _, r := range s.usage {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	}
	return out
}

// --- ChatStore ---

// CreateChat stores a chat.
func (s *FakeStore) CreateChat(_ context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("CreateChat") {
		return ErrInjected
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	s.chats[c.ID] = &cp
	return nil
}

// GetChat looks up a chat by id.
func (s *FakeStore) GetChat(_ context.Context, id string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("GetChat") {
		return nil, ErrInjected
	}
	c, ok := s.chats[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListChatsByUser returns chats the user participates in, newest first.
func (s *FakeStore) ListChatsByUser(_ context.Context, userID string) ([]*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("ListChatsByUser") {
		return nil, ErrInjected
	}
	var out []*chat.Chat
	for _, c := range s.chats {
		if slices.Contains(c.Participants, userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *chat.Chat) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// DeleteChat removes a chat. Missing chats are a no-op.
func (s *FakeStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("DeleteChat") {
		return ErrInjected
	}
	delete(s.chats, id)
	return nil
}

// --- MessageStore ---

// CreateMessage appends a message.
func (s *FakeStore) CreateMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("CreateMessage") {
		return ErrInjected
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

// ListMessages returns a page of messages ordered by creation time, then insertion.
func (s *FakeStore) ListMessages(_ context.Context, chatID string, offset, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("ListMessages") {
		return nil, ErrInjected
	}
	var all []*chat.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			all = append(all, m)
		}
	}
	slices.SortStableFunc(all, func(a, b *chat.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// DeleteMessagesByChat removes every message of a chat.
func (s *FakeStore) DeleteMessagesByChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("DeleteMessagesByChat") {
		return ErrInjected
	}
	s.messages = slices.DeleteFunc(s.messages, func(m *chat.Message) bool { return m.ChatID == chatID })
	return nil
}

// CountUnanswered counts USER messages created before the cutoff without an ASSISTANT reply.
func (s *FakeStore) CountUnanswered(_ context.Context, before time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("CountUnanswered") {
		return 0, ErrInjected
	}
	answered := make(map[string]bool)
	for _, m := range s.messages {
		if m.Role == chat.RoleAssistant && m.ReplyTo != nil {
			answered[*m.ReplyTo] = true
		}
	}
	n := 0
	for _, m := range s.messages {
		if m.Role == chat.RoleUser && m.CreatedAt.Before(before) && !answered[m.ID] {
			n++
		}
	}
	return n, nil
}

// --- UsageStore ---

// CreateUsage appends a usage record.
func (s *FakeStore) CreateUsage(_ context.Context, r *chat.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("CreateUsage") {
		return ErrInjected
	}
	cp := *r
	s.usage = append(s.usage, &cp)
	return nil
}

// DeleteUsageByChat removes every usage record of a chat.
func (s *FakeStore) DeleteUsageByChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("DeleteUsageByChat") {
		return ErrInjected
	}
	s.usage = slices.DeleteFunc(s.usage, func(r *chat.UsageRecord) bool { return r.ChatID == chatID })
	return nil
}

// SumUsageByUser totals the tokens recorded for a user.
func (s *FakeStore) SumUsageByUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("SumUsageByUser") {
		return 0, ErrInjected
	}
	total := 0
	for _, r := range s.usage {
		if r.UserID != nil && *r.UserID == userID {
			total += r.Tokens
		}
	}
	return total, nil
}

// Ping returns ErrInjected when FailOn["Ping"] is set.
func (s *FakeStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing("Ping") {
		return ErrInjected
	}
	return nil
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
