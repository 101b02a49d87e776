package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/provider"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		// MessageSaved and MessageID are set when the inbound message was
		// persisted but the reply failed.
		MessageSaved bool   `json:"message_saved,omitempty"`
		MessageID    string `json:"message_id,omitempty"`
	} `json:"error"`
}

func errorResponse(typ, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

// errorStatus maps the domain error taxonomy to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrExtraction):
		return http.StatusUnprocessableEntity
	case provider.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, chat.ErrTransport),
		errors.Is(err, chat.ErrUpstreamRejected),
		errors.Is(err, chat.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorType is the machine-readable error class.
func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "extraction_error"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusBadGateway:
		return "upstream_error"
	default:
		return "internal"
	}
}

// writeError writes err with its mapped status. Storage and unclassified
// errors are logged and sanitized so driver details never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chat.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	body := errorResponse(errorType(status), msg)

	var re *chat.ReplyError
	if errors.As(err, &re) && re.Message != nil {
		body.Error.MessageSaved = true
		body.Error.MessageID = re.Message.ID
	}
	writeJSON(w, status, body)
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type listResponse struct {
	Data any `json:"data"`
}
