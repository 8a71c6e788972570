package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pressgate/pressgate/internal/model"
)

// fakeOverrides is an in-memory OverrideSource.
type fakeOverrides struct {
	byTenant map[string]*model.TenantOverride
	err      error
	loaded   chan string // receives tenant IDs as lookups happen, if non-nil
}

func (f *fakeOverrides) FindTenantOverride(ctx context.Context, tenantID string) (*model.TenantOverride, error) {
	if f.loaded != nil {
		select {
		case f.loaded <- tenantID:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byTenant[tenantID], nil
}

func newTestLimiter(t *testing.T, overrides OverrideSource) *Limiter {
	t.Helper()
	opts := DefaultOptions()
	opts.DisableSweep = true
	return New(overrides, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestAllowDefaultMinuteLimit(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	// Pin the clock so no refill happens between requests.
	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 100; i++ {
		res := l.Allow(ctx, "tenant-1", "pk_live_a")
		if !res.Allowed {
			t.Fatalf("request %d denied, want admitted", i+1)
		}
		if res.Limit != 100 {
			t.Fatalf("Limit = %d, want 100", res.Limit)
		}
	}

	res := l.Allow(ctx, "tenant-1", "pk_live_a")
	if res.Allowed {
		t.Fatal("101st request admitted, want denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if res.Window != WindowMinute {
		t.Errorf("Window = %q, want %q", res.Window, WindowMinute)
	}

	ahead := res.Reset.Sub(start)
	if ahead <= 0 || ahead > time.Minute {
		t.Errorf("Reset %v ahead of now, want within (0, 60s]", ahead)
	}
	if got, want := res.RetryAfter(start), int(ahead.Seconds()); got != want {
		t.Errorf("RetryAfter = %d, want %d", got, want)
	}
}

func TestHourDenialRefundsMinuteToken(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	start := time.Now()
	l.now = func() time.Time { return start }

	e := l.lookup(ctx, "tenant-1", "pk_live_a")
	e.minute.tokens = 1
	e.hour.tokens = 0

	res := l.Allow(ctx, "tenant-1", "pk_live_a")
	if res.Allowed {
		t.Fatal("request admitted with an empty hour bucket")
	}
	if res.Window != WindowHour {
		t.Errorf("Window = %q, want %q", res.Window, WindowHour)
	}
	if e.minute.tokens != 1 {
		t.Errorf("minute bucket = %v after hour denial, want 1 (refunded)", e.minute.tokens)
	}
}

func TestMinuteDenialSkipsHourCheck(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	start := time.Now()
	l.now = func() time.Time { return start }

	e := l.lookup(ctx, "tenant-1", "pk_live_a")
	e.minute.tokens = 0
	e.hour.tokens = 500

	res := l.Allow(ctx, "tenant-1", "pk_live_a")
	if res.Allowed || res.Window != WindowMinute {
		t.Fatalf("want minute denial, got allowed=%v window=%q", res.Allowed, res.Window)
	}
	if e.hour.tokens != 500 {
		t.Errorf("hour bucket touched on minute denial: %v", e.hour.tokens)
	}
}

func TestOverrideAppliesToFirstRequest(t *testing.T) {
	src := &fakeOverrides{byTenant: map[string]*model.TenantOverride{
		"tenant-1": {TenantID: "tenant-1", PerMinute: 500},
	}}
	l := newTestLimiter(t, src)

	res := l.Allow(context.Background(), "tenant-1", "pk_live_a")
	if !res.Allowed {
		t.Fatal("first request denied")
	}
	if res.Limit != 500 {
		t.Errorf("Limit = %d, want 500 from override", res.Limit)
	}
	if res.Remaining != 499 {
		t.Errorf("Remaining = %d, want 499", res.Remaining)
	}
}

func TestOverrideLoadFailureUsesDefaults(t *testing.T) {
	src := &fakeOverrides{err: errors.New("store down")}
	l := newTestLimiter(t, src)

	res := l.Allow(context.Background(), "tenant-1", "pk_live_a")
	if !res.Allowed {
		t.Fatal("request denied after override load failure")
	}
	if res.Limit != 100 {
		t.Errorf("Limit = %d, want default 100", res.Limit)
	}
}

func TestOverrideRefreshAfterFreshnessWindow(t *testing.T) {
	src := &fakeOverrides{
		byTenant: map[string]*model.TenantOverride{},
		loaded:   make(chan string, 4),
	}
	l := newTestLimiter(t, src)

	now := time.Now()
	l.now = func() time.Time { return now }

	// First request loads synchronously (no override stored yet).
	l.Allow(context.Background(), "tenant-1", "pk_live_a")
	<-src.loaded

	// Store an override, lapse the freshness window, and request again: the
	// in-flight request keeps the stale defaults while a refresh is kicked
	// off in the background.
	src.byTenant["tenant-1"] = &model.TenantOverride{TenantID: "tenant-1", PerMinute: 500}
	now = now.Add(61 * time.Second)

	res := l.Allow(context.Background(), "tenant-1", "pk_live_a")
	if res.Limit != 100 {
		t.Errorf("stale request Limit = %d, want 100 while refresh in flight", res.Limit)
	}

	select {
	case <-src.loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never queried the override source")
	}

	// Once the refresh lands the new capacity is in effect. Poll briefly:
	// the goroutine applies the limits after signaling the channel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		res = l.Allow(context.Background(), "tenant-1", "pk_live_a")
		if res.Limit == 500 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Limit = %d, want 500 after refresh", res.Limit)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAllowAuthStricterAndNoHourWindow(t *testing.T) {
	l := newTestLimiter(t, nil)

	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 10; i++ {
		if res := l.AllowAuth("tenant-1", "pk_live_a"); !res.Allowed {
			t.Fatalf("auth request %d denied", i+1)
		}
	}
	res := l.AllowAuth("tenant-1", "pk_live_a")
	if res.Allowed {
		t.Fatal("11th auth request admitted, want denied")
	}
	if res.Limit != 10 {
		t.Errorf("auth Limit = %d, want 10", res.Limit)
	}

	// The auth bucket is isolated: the normal entry is untouched.
	normal := l.Allow(context.Background(), "tenant-1", "pk_live_a")
	if !normal.Allowed || normal.Remaining != 99 {
		t.Errorf("normal bucket affected by auth checks: %+v", normal)
	}
}

func TestAllowIP(t *testing.T) {
	l := newTestLimiter(t, nil)

	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 10; i++ {
		if res := l.AllowIP("203.0.113.9"); !res.Allowed {
			t.Fatalf("IP request %d denied", i+1)
		}
	}
	if res := l.AllowIP("203.0.113.9"); res.Allowed {
		t.Fatal("11th request from same IP admitted, want denied")
	}

	// A different IP is unaffected.
	if res := l.AllowIP("198.51.100.1"); !res.Allowed {
		t.Fatal("request from fresh IP denied")
	}
}

func TestForgetDropsBothEntries(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	l.Allow(ctx, "tenant-1", "pk_live_a")
	l.AllowAuth("tenant-1", "pk_live_a")
	if got := l.Size(); got != 2 {
		t.Fatalf("Size = %d, want 2", got)
	}

	l.Forget("tenant-1", "pk_live_a")
	if got := l.Size(); got != 0 {
		t.Errorf("Size after Forget = %d, want 0", got)
	}
}

func TestResetClearsAllState(t *testing.T) {
	l := newTestLimiter(t, nil)
	ctx := context.Background()

	l.Allow(ctx, "tenant-1", "pk_live_a")
	l.Allow(ctx, "tenant-2", "pk_live_b")
	l.AllowIP("203.0.113.9")

	l.Reset()
	if l.Size() != 0 || l.IPSize() != 0 {
		t.Errorf("Reset left state: entries=%d ips=%d", l.Size(), l.IPSize())
	}
}

func TestRetryAfterNeverNegative(t *testing.T) {
	res := Result{Reset: time.Now().Add(-time.Minute)}
	if got := res.RetryAfter(time.Now()); got != 0 {
		t.Errorf("RetryAfter = %d, want 0 for past reset", got)
	}
}
