package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	chat "github.com/kingidy/kingidy/internal"
)

// requestIDHeader is in canonical MIME form so the header map can be indexed
// directly.
const requestIDHeader = "X-Request-Id"

// recovery turns a handler panic into a 500 with the standard error body.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
				slog.Any("error", rec),
				slog.String("path", r.URL.Path),
				slog.String("request_id", chat.RequestIDFromContext(r.Context())),
			)
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal", "internal server error"))
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID propagates the caller's X-Request-Id or assigns a UUID v7, and
// stores it in the context for logs and spans.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		next.ServeHTTP(w, r.WithContext(chat.ContextWithRequestID(r.Context(), id)))
	})
}

// logging writes one line per request. chat_id and user_id are included when
// the matched route carries them.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", chat.RequestIDFromContext(r.Context())),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if id := rctx.URLParam("chatID"); id != "" {
				attrs = append(attrs, slog.String("chat_id", id))
			}
			if id := rctx.URLParam("userID"); id != "" {
				attrs = append(attrs, slog.String("user_id", id))
			}
		}
		level := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.LogAttrs(r.Context(), level, "request", attrs...)
	})
}

// statusWriter records the first status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
