package fallback

import (
	"context"
	"testing"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/tokencount"
)

func TestGenerateReply(t *testing.T) {
	t.Parallel()

	est := tokencount.NewCounterWithEncoder(nil)
	c := New(est)

	reply, err := c.GenerateReply(context.Background(), "What is photosynthesis?", "gpt-4")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if want := "Assistant (demo): Echoing your message: What is photosynthesis?"; reply.Text != want {
		t.Errorf("text = %q, want %q", reply.Text, want)
	}
	if reply.PromptTokens == nil || reply.ResponseTokens == nil || reply.TotalTokens == nil {
		t.Fatal("fallback must populate every usage count")
	}
	if got, want := *reply.PromptTokens, est.Estimate("What is photosynthesis?", chat.RoleUser); got != want {
		t.Errorf("prompt tokens = %d, want %d", got, want)
	}
	if got, want := *reply.ResponseTokens, est.Estimate(reply.Text, chat.RoleAssistant); got != want {
		t.Errorf("response tokens = %d, want %d", got, want)
	}
	if *reply.TotalTokens != *reply.PromptTokens+*reply.ResponseTokens {
		t.Errorf("total %d != %d + %d", *reply.TotalTokens, *reply.PromptTokens, *reply.ResponseTokens)
	}
}

func TestGenerateReply_EmptyPrompt(t *testing.T) {
	t.Parallel()

	reply, err := New(tokencount.NewCounterWithEncoder(nil)).GenerateReply(context.Background(), "", "")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply.Text != ReplyPrefix {
		t.Errorf("text = %q, want %q", reply.Text, ReplyPrefix)
	}
	if *reply.PromptTokens != 0 {
		t.Errorf("prompt tokens = %d, want 0", *reply.PromptTokens)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New(nil).Name(); got != "fallback" {
		t.Errorf("Name() = %q", got)
	}
}
