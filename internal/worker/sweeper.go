package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultSweepInterval = time.Minute
	// defaultSweepGrace skips messages whose reply may still be in flight.
	defaultSweepGrace = 2 * time.Minute
)

// UnansweredCounter is the storage capability the sweeper reads.
type UnansweredCounter interface {
	CountUnanswered(ctx context.Context, before time.Time) (int, error)
}

// UnansweredSweeper periodically counts inbound messages left without an
// assistant reply by a failed send. It only reports; it never mutates data.
type UnansweredSweeper struct {
	store    UnansweredCounter
	gauge    prometheus.Gauge
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewUnansweredSweeper creates a sweeper. gauge may be nil. Zero durations use
// the defaults.
func NewUnansweredSweeper(store UnansweredCounter, gauge prometheus.Gauge, interval, grace time.Duration) *UnansweredSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	return &UnansweredSweeper{
		store:    store,
		gauge:    gauge,
		interval: interval,
		grace:    grace,
		now:      time.Now,
	}
}

// Name returns the worker identifier.
func (w *UnansweredSweeper) Name() string { return "unanswered_sweeper" }

// Run sweeps once immediately, then on every interval until ctx is cancelled.
func (w *UnansweredSweeper) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// sweep returns the count it observed, or -1 on failure.
func (w *UnansweredSweeper) sweep(ctx context.Context) int {
	n, err := w.store.CountUnanswered(ctx, w.now().Add(-w.grace))
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "unanswered sweep failed",
				slog.String("error", err.Error()),
			)
		}
		return -1
	}
	if w.gauge != nil {
		w.gauge.Set(float64(n))
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelWarn, "messages without assistant reply",
			slog.Int("count", n),
		)
	}
	return n
}
