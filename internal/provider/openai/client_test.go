package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chat "github.com/kingidy/kingidy/internal"
)

func TestGenerateReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "What is ATP?" {
			t.Errorf("messages = %+v, want single user turn", req.Messages)
		}
		if req.MaxTokens != maxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, maxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Adenosine triphosphate."}}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1", srv.Client())
	reply, err := c.GenerateReply(context.Background(), "What is ATP?", "gpt-4o")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply.Text != "Adenosine triphosphate." {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.PromptTokens == nil || *reply.PromptTokens != 12 {
		t.Errorf("prompt tokens = %v, want 12", reply.PromptTokens)
	}
	if reply.ResponseTokens == nil || *reply.ResponseTokens != 5 {
		t.Errorf("response tokens = %v, want 5", reply.ResponseTokens)
	}
	if reply.TotalTokens == nil || *reply.TotalTokens != 17 {
		t.Errorf("total tokens = %v, want 17", reply.TotalTokens)
	}
}

func TestGenerateReply_NoUsage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	reply, err := New(srv.URL, srv.Client()).GenerateReply(context.Background(), "hi", "gpt-3.5-turbo")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply.Text != "ok" {
		t.Errorf("text = %q, want ok", reply.Text)
	}
	if reply.PromptTokens != nil || reply.ResponseTokens != nil || reply.TotalTokens != nil {
		t.Errorf("counts should be nil without usage, got %+v", reply)
	}
}

func TestGenerateReply_ResponseTokensAlias(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"response_tokens":9}}`)
	}))
	defer srv.Close()

	reply, err := New(srv.URL, srv.Client()).GenerateReply(context.Background(), "hi", "m")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply.ResponseTokens == nil || *reply.ResponseTokens != 9 {
		t.Errorf("response tokens = %v, want 9", reply.ResponseTokens)
	}
	if reply.PromptTokens != nil || reply.TotalTokens != nil {
		t.Errorf("unreported counts should be nil, got %+v", reply)
	}
}

func TestGenerateReply_MalformedIsEmptyReply(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"no choices": `{"id":"x"}`,
		"not json":   `<html>gateway</html>`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			reply, err := New(srv.URL, srv.Client()).GenerateReply(context.Background(), "hi", "m")
			if err != nil {
				t.Fatalf("GenerateReply: %v", err)
			}
			if reply.Text != "" {
				t.Errorf("text = %q, want empty", reply.Text)
			}
		})
	}
}

func TestGenerateReply_UpstreamRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client()).GenerateReply(context.Background(), "hi", "m")
	if !errors.Is(err, chat.ErrUpstreamRejected) {
		t.Fatalf("expected ErrUpstreamRejected, got %v", err)
	}
	var pe *chat.ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("expected *chat.ProviderError")
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", pe.StatusCode)
	}
	if pe.Body != `{"error":{"message":"slow down"}}` {
		t.Errorf("body = %q", pe.Body)
	}
}

func TestGenerateReply_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening

	_, err := New(url, nil).GenerateReply(context.Background(), "hi", "m")
	if !errors.Is(err, chat.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestGenerateReply_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, srv.Client()).GenerateReply(ctx, "hi", "m")
	if !errors.Is(err, chat.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}
