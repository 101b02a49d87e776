// Package chat defines domain types and interfaces for the Kingidy study-assistant service.
// This package has no project imports -- it is the dependency root.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// --- Roles ---

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ParseRole normalizes a role name. An empty name defaults to RoleUser.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleUser, nil
	}
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

// --- Aggregate ---

// Chat is a conversation owned by one user with a set of participants.
// OwnerID is always contained in Participants.
type Chat struct {
	ID           string    `json:"id"`
	Title        *string   `json:"title,omitempty"`
	OwnerID      string    `json:"owner_id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one immutable turn in a chat.
// Tokens == PromptTokens + ResponseTokens whenever both are non-nil.
type Message struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	UserID         *string   `json:"user_id,omitempty"` // nil for assistant/system turns
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Model          *string   `json:"model,omitempty"`
	Tokens         int       `json:"tokens"`
	PromptTokens   *int      `json:"prompt_tokens,omitempty"`
	ResponseTokens *int      `json:"response_tokens,omitempty"`
	ReplyTo        *string   `json:"reply_to,omitempty"` // inbound message an assistant turn answers
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord attributes token consumption to a user, chat, and message.
// Records are append-only and only read back in aggregate.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"user_id,omitempty"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenSummary is a token accounting snapshot. PromptTokens and ResponseTokens
// are only populated for the summary returned by a send.
type TokenSummary struct {
	TokensUsed     int  `json:"tokens_used"`
	PromptTokens   *int `json:"prompt_tokens"`
	ResponseTokens *int `json:"response_tokens"`
}

// --- Send pipeline ---

// SendInput is the request to post a message into a chat.
type SendInput struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	Role    Role   `json:"role,omitempty"`
	Model   string `json:"model,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// SendResult pairs the persisted inbound and assistant messages. It is not persisted.
type SendResult struct {
	Message      *Message     `json:"message"`
	Reply        *Message     `json:"reply"`
	TokenSummary TokenSummary `json:"token_summary"`
}

// --- Provider capability ---

// Reply is a normalized provider reply. Nil counts mean the backend did not
// report them and the caller must estimate.
type Reply struct {
	Text           string
	PromptTokens   *int
	ResponseTokens *int
	TotalTokens    *int
}

// Adapter is the reply-generation capability implemented once per vendor family.
type Adapter interface {
	// Name returns the adapter identifier (e.g. "openai", "gemini", "fallback").
	Name() string
	// GenerateReply sends a single-turn prompt and returns the normalized reply.
	// Failures are returned as *ProviderError.
	GenerateReply(ctx context.Context, prompt, model string) (*Reply, error)
}

// TokenEstimator estimates token counts for a text/role pair. It never fails.
type TokenEstimator interface {
	Estimate(content string, role Role) int
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// --- Credentials ---

// Credentials records which vendor credentials are configured. Routing reads
// only presence; the secrets themselves live in the adapters' transports.
type Credentials struct {
	OpenAIKey   string
	GoogleKey   string
	GoogleOAuth bool // ADC-backed Google access without an API key
}

// HasOpenAI reports whether a standard-completion key is configured.
func (c Credentials) HasOpenAI() bool { return c.OpenAIKey != "" }

// HasGoogle reports whether the generative-text backend is reachable.
func (c Credentials) HasGoogle() bool { return c.GoogleKey != "" || c.GoogleOAuth }

// Any reports whether any vendor credential is configured.
func (c Credentials) Any() bool { return c.HasOpenAI() || c.HasGoogle() }
