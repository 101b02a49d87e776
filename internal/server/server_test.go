package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/app"
	"github.com/kingidy/kingidy/internal/provider"
	"github.com/kingidy/kingidy/internal/provider/fallback"
	"github.com/kingidy/kingidy/internal/testutil"
	"github.com/kingidy/kingidy/internal/tokencount"
)

var wordCounter = tokencount.NewCounterWithEncoder(nil)

type testEnv struct {
	handler http.Handler
	store   *testutil.FakeStore
	adapter *testutil.FakeAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewFakeStore()
	adapter := &testutil.FakeAdapter{AdapterName: "fake"}
	g := app.NewGateway(store, adapter, wordCounter, app.GatewayOptions{})
	return &testEnv{
		handler: New(Deps{Chats: g}),
		store:   store,
		adapter: adapter,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createChat(t *testing.T, owner string) *chat.Chat {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/chats", fmt.Sprintf(`{"title":"Biology","owner_id":%q}`, owner))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var c chat.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	return &c
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Kingidy API") {
		t.Errorf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzFailing(t *testing.T) {
	t.Parallel()

	h := New(Deps{
		Chats: app.NewGateway(testutil.NewFakeStore(), &testutil.FakeAdapter{}, wordCounter, app.GatewayOptions{}),
		ReadyCheck: func(context.Context) error {
			return errors.New("db down")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestChatLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	c := env.createChat(t, "alice")
	if c.OwnerID != "alice" || len(c.Participants) != 1 || c.Participants[0] != "alice" {
		t.Fatalf("chat = %+v", c)
	}

	rec := env.do(t, http.MethodGet, "/v1/chats/"+c.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get chat: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/users/alice/chats", "")
	var list struct {
		Data []chat.Chat `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != c.ID {
		t.Errorf("list chats = %+v", list.Data)
	}

	rec = env.do(t, http.MethodDelete, "/v1/chats/"+c.ID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/chats/"+c.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted chat: status = %d, want 404", rec.Code)
	}
}

func TestListChatsEmpty(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/users/nobody/chats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty data array", rec.Body.String())
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.createChat(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		`{"content":"what is mitosis","model":"gpt-4o","user_id":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var res chat.SendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Message.Role != chat.RoleUser || res.Message.Content != "what is mitosis" {
		t.Errorf("inbound = %+v", res.Message)
	}
	if res.Reply.Role != chat.RoleAssistant || res.Reply.Content != "hello" {
		t.Errorf("reply = %+v", res.Reply)
	}
	if res.TokenSummary.PromptTokens == nil || res.TokenSummary.ResponseTokens == nil {
		t.Fatal("token summary must carry prompt and response tokens")
	}
	if res.TokenSummary.TokensUsed != *res.TokenSummary.PromptTokens+*res.TokenSummary.ResponseTokens {
		t.Errorf("token summary = %+v", res.TokenSummary)
	}

	rec = env.do(t, http.MethodGet, "/v1/chats/"+c.ID+"/messages", "")
	var page struct {
		Data []chat.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("messages = %d, want 2", len(page.Data))
	}

	rec = env.do(t, http.MethodGet, "/v1/users/alice/token-summary", "")
	var sum map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	want := res.Message.Tokens + res.Reply.Tokens
	if sum["tokens_used"] != want {
		t.Errorf("tokens_used = %d, want %d", sum["tokens_used"], want)
	}
}

func TestSendMessageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		chatID     string // empty = use created chat
		replyErr   error
		wantStatus int
		wantSaved  bool
	}{
		{name: "empty content", body: `{"content":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "bad role", body: `{"content":"hi","role":"robot"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{"content":`, wantStatus: http.StatusBadRequest},
		{name: "unknown chat", body: `{"content":"hi"}`, chatID: "missing", wantStatus: http.StatusBadRequest},
		{
			name:       "upstream rejected",
			body:       `{"content":"hi"}`,
			replyErr:   &chat.ProviderError{Kind: chat.KindUpstreamRejected, Provider: "fake", StatusCode: 401},
			wantStatus: http.StatusBadGateway,
			wantSaved:  true,
		},
		{
			name:       "timeout",
			body:       `{"content":"hi"}`,
			replyErr:   &chat.ProviderError{Kind: chat.KindTransport, Provider: "fake", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantSaved:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			if tt.replyErr != nil {
				env.adapter.GenerateFn = func(context.Context, string, string) (*chat.Reply, error) {
					return nil, tt.replyErr
				}
			}
			chatID := tt.chatID
			if chatID == "" {
				chatID = env.createChat(t, "alice").ID
			}

			rec := env.do(t, http.MethodPost, "/v1/chats/"+chatID+"/messages", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body apiError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Error.MessageSaved != tt.wantSaved {
				t.Errorf("message_saved = %v, want %v", body.Error.MessageSaved, tt.wantSaved)
			}
			if tt.wantSaved {
				msgs := env.store.Messages(chatID)
				if len(msgs) != 1 || msgs[0].ID != body.Error.MessageID {
					t.Errorf("stored = %d messages, error message_id = %q", len(msgs), body.Error.MessageID)
				}
			}
		})
	}
}

func TestSendMessageGoogleOnlyCredentials(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	reg.Register(fallback.New(wordCounter))
	gemini := &testutil.FakeAdapter{AdapterName: app.AdapterGemini}
	reg.Register(gemini)
	router := app.NewRouterService(reg, chat.Credentials{GoogleKey: "AIza"}, time.Second, nil)

	store := testutil.NewFakeStore()
	g := app.NewGateway(store, router, wordCounter, app.GatewayOptions{})
	env := &testEnv{handler: New(Deps{Chats: g}), store: store}
	c := env.createChat(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		`{"content":"what is osmosis","model":"gpt-3.5-turbo","user_id":"alice"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body = %s", rec.Code, rec.Body.String())
	}
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Error.MessageSaved || body.Error.Type != "upstream_error" {
		t.Errorf("error body = %+v", body.Error)
	}
	msgs := store.Messages(c.ID)
	if len(msgs) != 1 || msgs[0].ID != body.Error.MessageID {
		t.Errorf("stored = %d messages, error message_id = %q", len(msgs), body.Error.MessageID)
	}
	if n := len(gemini.Calls()); n != 0 {
		t.Errorf("gemini calls = %d, want 0", n)
	}
}

func TestStorageErrorSanitized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.Fail("ListChatsByUser")

	rec := env.do(t, http.MethodGet, "/v1/users/alice/chats", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), testutil.ErrInjected.Error()) {
		t.Errorf("body leaks storage error: %s", rec.Body.String())
	}
}

func TestListMessagesBadQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.createChat(t, "alice")

	rec := env.do(t, http.MethodGet, "/v1/chats/"+c.ID+"/messages?limit=ten", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func newUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSendDocument(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.createChat(t, "alice")

	body, ct := newUpload(t, "notes.txt", "Photosynthesis   converts light.\n\n\nIt happens in chloroplasts.", map[string]string{"user_id": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+c.ID+"/documents", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	calls := env.adapter.Calls()
	if len(calls) != 1 {
		t.Fatalf("adapter calls = %d, want 1", len(calls))
	}
	if want := "Photosynthesis converts light.\nIt happens in chloroplasts."; calls[0].Prompt != want {
		t.Errorf("prompt = %q, want %q", calls[0].Prompt, want)
	}
}

func TestSendDocumentUnsupported(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.createChat(t, "alice")

	body, ct := newUpload(t, "slides.pptx", "binary", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+c.ID+"/documents", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", rec.Code, rec.Body.String())
	}
	if n := len(env.store.Messages(c.ID)); n != 0 {
		t.Errorf("stored messages = %d, want 0", n)
	}
}

func TestSendDocumentMissingFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.createChat(t, "alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("user_id", "alice")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+c.ID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", chat.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", chat.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", chat.ErrExtraction), http.StatusUnprocessableEntity},
		{&chat.ProviderError{Kind: chat.KindTransport, Err: errors.New("dial")}, http.StatusBadGateway},
		{&chat.ProviderError{Kind: chat.KindMalformedResponse}, http.StatusBadGateway},
		{&chat.ReplyError{Message: &chat.Message{ID: "m"}, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: op: %w", chat.ErrStorage, errors.New("disk")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
