package server

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the store ping behind /readyz.
const readyTimeout = 2 * time.Second

var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Kingidy API"})
}

// handleHealthz reports liveness only.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleReadyz reports whether the store answers.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.ReadyCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}
