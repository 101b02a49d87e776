package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/dnscache"
)

type fakeWorker struct {
	name  string
	runFn func(ctx context.Context) error
}

func (f *fakeWorker) Name() string { return f.name }

func (f *fakeWorker) Run(ctx context.Context) error {
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func TestRunner_StopOnCancel(t *testing.T) {
	t.Parallel()
	r := NewRunner(&fakeWorker{name: "idle"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_ErrorCancelsOthers(t *testing.T) {
	t.Parallel()
	testErr := errors.New("count failed")
	var stopped atomic.Bool
	failing := &fakeWorker{name: "sweeper", runFn: func(context.Context) error { return testErr }}
	idle := &fakeWorker{name: "idle", runFn: func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return nil
	}}

	err := NewRunner(failing, idle).Run(t.Context())
	if !errors.Is(err, testErr) {
		t.Fatalf("err = %v, want %v", err, testErr)
	}
	if !strings.Contains(err.Error(), "worker sweeper") {
		t.Errorf("err = %q, want worker name", err)
	}
	if !stopped.Load() {
		t.Error("idle worker was not cancelled")
	}
}

func TestWorkerName(t *testing.T) {
	t.Parallel()
	if got := workerName(&fakeWorker{name: "x"}); got != "x" {
		t.Errorf("workerName = %q, want x", got)
	}
	if got := workerName(NewDNSRefresher(nil, 0)); got != "dns_refresher" {
		t.Errorf("workerName = %q, want dns_refresher", got)
	}
}

type countingRefresher struct {
	calls atomic.Int32
	clear atomic.Bool
}

func (c *countingRefresher) Refresh(clearUnused bool) {
	c.clear.Store(clearUnused)
	c.calls.Add(1)
}

func TestDNSRefresher(t *testing.T) {
	t.Parallel()
	res := &countingRefresher{}
	d := NewDNSRefresher(res, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for res.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("refresher did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if !res.clear.Load() {
		t.Error("refresh should clear unused hosts")
	}
}

func TestDNSRefresher_ResolverSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Refresher = &dnscache.Resolver{}
}
