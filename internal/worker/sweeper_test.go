package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	chat "github.com/kingidy/kingidy/internal"
	fakes "github.com/kingidy/kingidy/internal/testutil"
)

func TestUnansweredSweeper_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := fakes.NewFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msgs := []*chat.Message{
		{ID: "q1", ChatID: "c", Role: chat.RoleUser, CreatedAt: now.Add(-time.Hour)},
		{ID: "a1", ChatID: "c", Role: chat.RoleAssistant, ReplyTo: chat.Ptr("q1"), CreatedAt: now.Add(-time.Hour)},
		{ID: "q2", ChatID: "c", Role: chat.RoleUser, CreatedAt: now.Add(-time.Hour)},
		{ID: "q3", ChatID: "c", Role: chat.RoleUser, CreatedAt: now.Add(-10 * time.Second)},
	}
	for _, m := range msgs {
		if err := store.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_unanswered"})
	w := NewUnansweredSweeper(store, gauge, time.Minute, time.Minute)
	w.now = func() time.Time { return now }

	if got := w.sweep(ctx); got != 1 {
		t.Errorf("sweep = %d, want 1 (q3 is within the grace period)", got)
	}
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
}

func TestUnansweredSweeper_StoreError(t *testing.T) {
	t.Parallel()
	store := fakes.NewFakeStore()
	store.Fail("CountUnanswered")

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_unanswered"})
	gauge.Set(3)
	w := NewUnansweredSweeper(store, gauge, 0, 0)

	if got := w.sweep(context.Background()); got != -1 {
		t.Errorf("sweep = %d, want -1", got)
	}
	if got := testutil.ToFloat64(gauge); got != 3 {
		t.Errorf("gauge changed on failure: %v", got)
	}
}

func TestUnansweredSweeper_Run(t *testing.T) {
	t.Parallel()
	w := NewUnansweredSweeper(fakes.NewFakeStore(), nil, 10*time.Millisecond, 0)
	if w.Name() != "unanswered_sweeper" {
		t.Errorf("Name = %q", w.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
