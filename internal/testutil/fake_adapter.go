// Package testutil provides configurable test fakes for chat interfaces.
package testutil

import (
	"context"
	"sync"

	chat "github.com/kingidy/kingidy/internal"
)

// FakeAdapter is a configurable chat.Adapter for testing.
type FakeAdapter struct {
	AdapterName string
	GenerateFn  func(ctx context.Context, prompt, model string) (*chat.Reply, error)

	mu    sync.Mutex
	calls []FakeCall
}

// FakeCall records one GenerateReply invocation.
type FakeCall struct {
	Prompt string
	Model  string
}

// Name returns the configured adapter name.
func (f *FakeAdapter) Name() string { return f.AdapterName }

// GenerateReply records the call and delegates to GenerateFn, or replies "hello".
func (f *FakeAdapter) GenerateReply(ctx context.Context, prompt, model string) (*chat.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Prompt: prompt, Model: model})
	f.mu.Unlock()
	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, prompt, model)
	}
	return &chat.Reply{Text: "hello"}, nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeAdapter) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}
