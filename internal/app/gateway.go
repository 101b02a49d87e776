package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/cache"
	"github.com/kingidy/kingidy/internal/extract"
	"github.com/kingidy/kingidy/internal/storage"
	"github.com/kingidy/kingidy/internal/telemetry"
)

// Model labels used when the caller supplies no model.
const (
	DefaultModel      = "gpt-3.5-turbo"
	UnknownModelLabel = "unknown"
	DemoModelLabel    = "demo-model"
)

// Message page bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

const defaultSummaryTTL = 30 * time.Second

// Replier generates a reply for a prompt. *RouterService implements it.
type Replier interface {
	GenerateReply(ctx context.Context, prompt, model string) (*chat.Reply, error)
}

// GatewayOptions configures optional Gateway behavior.
type GatewayOptions struct {
	// DefaultModel is passed to the router when a send names no model.
	DefaultModel string
	// Summaries caches per-user token totals. Nil disables caching.
	Summaries  cache.Cache[int]
	SummaryTTL time.Duration
	Metrics    *telemetry.Metrics
}

// Gateway orchestrates sends and the chat operation surface. Each step of a
// send is its own commit point; a provider failure leaves the inbound message
// persisted without a reply.
type Gateway struct {
	store        storage.Store
	router       Replier
	tokens       chat.TokenEstimator
	defaultModel string
	summaries    cache.Cache[int]
	summaryTTL   time.Duration

	// summaryMu orders cache fills against invalidations; summaryGen moves on
	// every invalidation so a fill computed before it is dropped.
	summaryMu  sync.Mutex
	summaryGen uint64
	metrics      *telemetry.Metrics
	tracer       trace.Tracer

	now   func() time.Time
	newID func() string
}

// NewGateway returns a Gateway over the given collaborators.
func NewGateway(store storage.Store, router Replier, tokens chat.TokenEstimator, opts GatewayOptions) *Gateway {
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = defaultSummaryTTL
	}
	return &Gateway{
		store:        store,
		router:       router,
		tokens:       tokens,
		defaultModel: opts.DefaultModel,
		summaries:    opts.Summaries,
		summaryTTL:   opts.SummaryTTL,
		metrics:      opts.Metrics,
		tracer:       telemetry.Tracer("kingidy/app"),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// storageErr tags a persistence failure with ErrStorage and the operation.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", chat.ErrStorage, op, err)
}

// Send posts a message into a chat and records the assistant reply.
//
// Validation failures return chat.ErrValidation with nothing persisted.
// Provider failures return *chat.ReplyError carrying the saved inbound
// message; errors.Is still matches the provider sentinel.
func (g *Gateway) Send(ctx context.Context, in chat.SendInput) (*chat.SendResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.send", trace.WithAttributes(
		attribute.String("chat_id", in.ChatID),
		attribute.String("model", in.Model),
	))
	defer span.End()

	res, stage, err := g.send(ctx, in)
	g.countSend(stage, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelWarn
		if errors.Is(err, chat.ErrValidation) {
			level = slog.LevelDebug
		}
		slog.LogAttrs(ctx, level, "send failed",
			slog.String("chat_id", in.ChatID),
			slog.String("stage", stage),
			slog.String("request_id", chat.RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return res, nil
}

// send runs the pipeline and reports the stage it stopped at. The assistant
// message and the returned summary carry the provider's prompt count when it
// reports one, so tokens always equals prompt plus response.
func (g *Gateway) send(ctx context.Context, in chat.SendInput) (*chat.SendResult, string, error) {
	// 1. Validate.
	if strings.TrimSpace(in.Content) == "" {
		return nil, "validate", fmt.Errorf("%w: content is required", chat.ErrValidation)
	}
	if in.ChatID == "" {
		return nil, "validate", fmt.Errorf("%w: chat_id is required", chat.ErrValidation)
	}
	role, err := chat.ParseRole(string(in.Role))
	if err != nil {
		return nil, "validate", err
	}
	if _, err := g.store.GetChat(ctx, in.ChatID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, "validate", fmt.Errorf("%w: unknown chat %q", chat.ErrValidation, in.ChatID)
		}
		return nil, "validate", storageErr("find chat", err)
	}

	var userID *string
	if in.UserID != "" {
		userID = &in.UserID
	}
	var model *string
	if in.Model != "" {
		model = &in.Model
	}

	// 2-3. Estimate and persist the inbound message.
	promptTokens := g.tokens.Estimate(in.Content, role)
	inbound := &chat.Message{
		ID:           g.newID(),
		ChatID:       in.ChatID,
		UserID:       userID,
		Role:         role,
		Content:      in.Content,
		Model:        model,
		Tokens:       promptTokens,
		PromptTokens: chat.Ptr(promptTokens),
		CreatedAt:    g.now(),
	}
	if err := g.store.CreateMessage(ctx, inbound); err != nil {
		return nil, "persist_inbound", storageErr("create message", err)
	}

	// 4. Usage for the inbound message.
	if err := g.recordUsage(ctx, inbound, userID, labelOr(in.Model, UnknownModelLabel), promptTokens); err != nil {
		return nil, "usage_inbound", err
	}
	g.invalidateSummary(ctx, in.UserID)

	// 5. Generate the reply.
	reply, err := g.router.GenerateReply(ctx, in.Content, labelOr(in.Model, g.defaultModel))
	if err != nil {
		return nil, "generate", &chat.ReplyError{Message: inbound, Err: err}
	}

	replyPrompt := promptTokens
	if reply.PromptTokens != nil {
		replyPrompt = *reply.PromptTokens
	}
	responseTokens := g.tokens.Estimate(reply.Text, chat.RoleAssistant)
	if reply.ResponseTokens != nil {
		responseTokens = *reply.ResponseTokens
	}
	totalTokens := replyPrompt + responseTokens
	if reply.TotalTokens != nil && *reply.TotalTokens != totalTokens {
		slog.LogAttrs(ctx, slog.LevelDebug, "provider total disagrees with prompt+response",
			slog.Int("reported", *reply.TotalTokens),
			slog.Int("computed", totalTokens),
		)
	}

	// 6. Persist the assistant message.
	replyModel := labelOr(in.Model, DemoModelLabel)
	assistant := &chat.Message{
		ID:             g.newID(),
		ChatID:         in.ChatID,
		Role:           chat.RoleAssistant,
		Content:        reply.Text,
		Model:          &replyModel,
		Tokens:         totalTokens,
		PromptTokens:   chat.Ptr(replyPrompt),
		ResponseTokens: chat.Ptr(responseTokens),
		ReplyTo:        &inbound.ID,
		CreatedAt:      g.now(),
	}
	if err := g.store.CreateMessage(ctx, assistant); err != nil {
		return nil, "persist_reply", storageErr("create reply", err)
	}

	// 7. Usage for the assistant message.
	if err := g.recordUsage(ctx, assistant, userID, replyModel, totalTokens); err != nil {
		return nil, "usage_reply", err
	}
	g.invalidateSummary(ctx, in.UserID)

	if g.metrics != nil {
		g.metrics.TokensProcessed.WithLabelValues(replyModel, "prompt").Add(float64(replyPrompt))
		g.metrics.TokensProcessed.WithLabelValues(replyModel, "response").Add(float64(responseTokens))
	}

	// 8. Combined result.
	return &chat.SendResult{
		Message: inbound,
		Reply:   assistant,
		TokenSummary: chat.TokenSummary{
			TokensUsed:     totalTokens,
			PromptTokens:   chat.Ptr(replyPrompt),
			ResponseTokens: chat.Ptr(responseTokens),
		},
	}, "done", nil
}

// SendDocument extracts text from an uploaded document and sends it as the
// message content. Extraction failures persist nothing.
func (g *Gateway) SendDocument(ctx context.Context, in chat.SendInput, filename string, data []byte) (*chat.SendResult, error) {
	text, err := extract.Text(filename, data)
	if err != nil {
		return nil, err
	}
	in.Content = text
	return g.Send(ctx, in)
}

func (g *Gateway) recordUsage(ctx context.Context, m *chat.Message, userID *string, model string, tokens int) error {
	rec := &chat.UsageRecord{
		ID:        g.newID(),
		UserID:    userID,
		ChatID:    m.ChatID,
		MessageID: m.ID,
		Model:     model,
		Tokens:    tokens,
		CreatedAt: g.now(),
	}
	if err := g.store.CreateUsage(ctx, rec); err != nil {
		return storageErr("create usage", err)
	}
	return nil
}

func (g *Gateway) countSend(stage string, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "replied"
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrValidation):
		outcome = "rejected"
	case stage == "generate":
		outcome = "reply_failed"
	default:
		outcome = "storage_error"
	}
	g.metrics.MessagesSent.WithLabelValues(outcome).Inc()
}

// CreateChat creates a chat owned by ownerID. The owner is always a participant.
func (g *Gateway) CreateChat(ctx context.Context, title *string, ownerID string) (*chat.Chat, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner_id is required", chat.ErrValidation)
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		title = nil
	}
	now := g.now()
	c := &chat.Chat{
		ID:           g.newID(),
		Title:        title,
		OwnerID:      ownerID,
		Participants: []string{ownerID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.store.CreateChat(ctx, c); err != nil {
		return nil, storageErr("create chat", err)
	}
	return c, nil
}

// GetChat returns a chat or chat.ErrNotFound.
func (g *Gateway) GetChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	c, err := g.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, fmt.Errorf("chat %q: %w", chatID, err)
		}
		return nil, storageErr("get chat", err)
	}
	return c, nil
}

// GetChats lists the chats a user participates in.
func (g *Gateway) GetChats(ctx context.Context, userID string) ([]*chat.Chat, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", chat.ErrValidation)
	}
	chats, err := g.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("list chats", err)
	}
	if chats == nil {
		chats = []*chat.Chat{}
	}
	return chats, nil
}

// GetMessages returns a page of messages, oldest first. limit defaults to 50
// and is clamped to [1, 200]; negative offsets count as 0.
func (g *Gateway) GetMessages(ctx context.Context, chatID string, limit, offset int) ([]*chat.Message, error) {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	offset = max(offset, 0)
	msgs, err := g.store.ListMessages(ctx, chatID, offset, limit)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	return msgs, nil
}

// DeleteChat removes a chat's messages, then its usage records, then the chat
// itself. Deleting a missing chat succeeds.
func (g *Gateway) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	if chatID == "" {
		return false, fmt.Errorf("%w: chat_id is required", chat.ErrValidation)
	}
	if err := g.store.DeleteMessagesByChat(ctx, chatID); err != nil {
		return false, storageErr("delete messages", err)
	}
	if err := g.store.DeleteUsageByChat(ctx, chatID); err != nil {
		return false, storageErr("delete usage", err)
	}
	if err := g.store.DeleteChat(ctx, chatID); err != nil {
		return false, storageErr("delete chat", err)
	}
	// Usage from any participant may have been removed.
	if g.summaries != nil {
		g.summaryMu.Lock()
		g.summaryGen++
		g.summaries.Purge(ctx)
		g.summaryMu.Unlock()
	}
	return true, nil
}

// GetTokenSummary returns the total tokens recorded for a user; 0 when none.
func (g *Gateway) GetTokenSummary(ctx context.Context, userID string) (chat.TokenSummary, error) {
	if userID == "" {
		return chat.TokenSummary{}, fmt.Errorf("%w: user_id is required", chat.ErrValidation)
	}
	var gen uint64
	if g.summaries != nil {
		if total, ok := g.summaries.Get(ctx, userID); ok {
			return chat.TokenSummary{TokensUsed: total}, nil
		}
		g.summaryMu.Lock()
		gen = g.summaryGen
		g.summaryMu.Unlock()
	}
	total, err := g.store.SumUsageByUser(ctx, userID)
	if err != nil {
		return chat.TokenSummary{}, storageErr("sum usage", err)
	}
	if g.summaries != nil {
		g.summaryMu.Lock()
		if g.summaryGen == gen {
			g.summaries.Set(ctx, userID, total, g.summaryTTL)
		}
		g.summaryMu.Unlock()
	}
	return chat.TokenSummary{TokensUsed: total}, nil
}

func (g *Gateway) invalidateSummary(ctx context.Context, userID string) {
	if g.summaries != nil && userID != "" {
		g.summaryMu.Lock()
		g.summaryGen++
		g.summaries.Delete(ctx, userID)
		g.summaryMu.Unlock()
	}
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
