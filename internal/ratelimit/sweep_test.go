package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestSweepEvictsIdleEntries(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	start := time.Now()
	l.now = func() time.Time { return start }

	l.Allow(ctx, "tenant-1", "pk_live_old")
	l.AllowIP("203.0.113.9")

	// Touch a second key two hours later; the first is now idle past TTL.
	later := start.Add(2*time.Hour + time.Minute)
	l.now = func() time.Time { return later }
	l.Allow(ctx, "tenant-1", "pk_live_fresh")

	removed := l.sweep(later)
	if removed != 2 {
		t.Errorf("sweep removed %d, want 2 (idle entry + idle IP bucket)", removed)
	}
	if got := l.Size(); got != 1 {
		t.Errorf("Size after sweep = %d, want 1", got)
	}
	if got := l.IPSize(); got != 0 {
		t.Errorf("IPSize after sweep = %d, want 0", got)
	}
}

func TestSweepEnforcesHardCap(t *testing.T) {
	opts := DefaultOptions()
	opts.DisableSweep = true
	opts.MaxEntries = 100
	l := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	ctx := context.Background()

	// Create 150 entries with strictly increasing last-refill times so the
	// eviction order is deterministic.
	base := time.Now()
	for i := 0; i < 150; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		l.now = func() time.Time { return tick }
		l.Allow(ctx, "tenant-1", fmt.Sprintf("pk_live_%03d", i))
	}

	now := base.Add(200 * time.Second)
	l.sweep(now)

	// 80% of the cap survives, and the survivors are the most recently
	// refilled keys.
	if got, want := l.Size(), 80; got != want {
		t.Fatalf("Size after cap sweep = %d, want %d", got, want)
	}
	if _, ok := l.entries.Load("tenant-1:pk_live_000"); ok {
		t.Error("oldest entry survived cap eviction")
	}
	if _, ok := l.entries.Load("tenant-1:pk_live_149"); !ok {
		t.Error("newest entry evicted by cap sweep")
	}
}

func TestStartDisabledSweepIsNoop(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DisableSweep is set by newTestLimiter; Start must not spawn anything
	// that later mutates state.
	l.Start(ctx)
	l.Allow(ctx, "tenant-1", "pk_live_a")
	if got := l.Size(); got != 1 {
		t.Errorf("Size = %d, want 1", got)
	}
}
