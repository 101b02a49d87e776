// Package server implements the HTTP transport layer for the Kingidy chat service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// ChatService is the operation surface behind the HTTP API.
// *app.Gateway implements it.
type ChatService interface {
	Send(ctx context.Context, in chat.SendInput) (*chat.SendResult, error)
	SendDocument(ctx context.Context, in chat.SendInput, filename string, data []byte) (*chat.SendResult, error)
	CreateChat(ctx context.Context, title *string, ownerID string) (*chat.Chat, error)
	GetChat(ctx context.Context, chatID string) (*chat.Chat, error)
	GetChats(ctx context.Context, userID string) ([]*chat.Chat, error)
	GetMessages(ctx context.Context, chatID string, limit, offset int) ([]*chat.Message, error)
	DeleteChat(ctx context.Context, chatID string) (bool, error)
	GetTokenSummary(ctx context.Context, userID string) (chat.TokenSummary, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Chats          ChatService
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chats", s.handleCreateChat)
		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Get("/", s.handleGetChat)
			r.Delete("/", s.handleDeleteChat)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/documents", s.handleSendDocument)
		})
		r.Get("/users/{userID}/chats", s.handleListChats)
		r.Get("/users/{userID}/token-summary", s.handleTokenSummary)
	})

	return r
}

type server struct {
	deps Deps
}
