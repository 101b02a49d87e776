package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/extract"
)

// maxJSONBody is the maximum allowed JSON request body size (1 MB).
const maxJSONBody = 1 << 20

// maxMultipartMemory bounds the in-memory part of a document upload.
const maxMultipartMemory = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid request body"))
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", chat.ErrValidation, key)
	}
	return n, nil
}

// --- Chats ---

type createChatRequest struct {
	Title   *string `json:"title"`
	OwnerID string  `json:"owner_id"`
}

func (s *server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.deps.Chats.CreateChat(r.Context(), req.Title, req.OwnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Chats.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Chats.DeleteChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.deps.Chats.GetChats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chats == nil {
		chats = []*chat.Chat{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: chats})
}

// --- Messages ---

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := s.deps.Chats.GetMessages(r.Context(), chi.URLParam(r, "chatID"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: msgs})
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	UserID  string `json:"user_id"`
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := chat.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Chats.Send(r.Context(), chat.SendInput{
		ChatID:  chi.URLParam(r, "chatID"),
		Content: req.Content,
		Role:    role,
		Model:   req.Model,
		UserID:  req.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSendDocument accepts a multipart upload with a "file" part and the
// optional form fields role, model, and user_id.
func (s *server) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, extract.MaxDocumentSize+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: document exceeds %d bytes", chat.ErrExtraction, extract.MaxDocumentSize))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid multipart body: %v", chat.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file part is required", chat.ErrValidation))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read upload: %v", chat.ErrValidation, err))
		return
	}

	role, err := chat.ParseRole(r.FormValue("role"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Chats.SendDocument(r.Context(), chat.SendInput{
		ChatID: chi.URLParam(r, "chatID"),
		Role:   role,
		Model:  r.FormValue("model"),
		UserID: r.FormValue("user_id"),
	}, header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Usage ---

func (s *server) handleTokenSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Chats.GetTokenSummary(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tokens_used": sum.TokensUsed})
}
