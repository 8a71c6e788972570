// Package ratelimit implements dual-window token-bucket admission control
// with per-tenant overrides, an isolated stricter policy for the token
// endpoint, per-IP pre-authentication buckets, and a background sweep that
// keeps the in-memory store bounded.
//
// State is process-local. Horizontally scaled deployments under-enforce
// limits because each instance tracks its own counters; externalizing bucket
// state is a future revision.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pressgate/pressgate/internal/model"
)

// Windows reported on a denial.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// OverrideSource supplies per-tenant limit overrides. A nil override means
// "use defaults". Lookup errors are swallowed and degrade to defaults.
type OverrideSource interface {
	FindTenantOverride(ctx context.Context, tenantID string) (*model.TenantOverride, error)
}

// Options holds the limiter's tunables. Zero values are replaced by
// DefaultOptions values in New.
type Options struct {
	PerMinute     int           // default minute capacity per key
	PerHour       int           // default hour capacity per key
	AuthPerMinute int           // token-endpoint capacity per key
	IPPerMinute   int           // token-endpoint capacity per source IP
	OverrideTTL   time.Duration // freshness window for cached overrides
	IdleTTL       time.Duration // sweep: evict entries idle this long
	MaxEntries    int           // sweep: hard cap on tracked keys
	SweepInterval time.Duration
	DisableSweep  bool // keeps tests deterministic
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PerMinute:     100,
		PerHour:       1000,
		AuthPerMinute: 10,
		IPPerMinute:   10,
		OverrideTTL:   60 * time.Second,
		IdleTTL:       2 * time.Hour,
		MaxEntries:    10000,
		SweepInterval: 5 * time.Minute,
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	Window    string // set on denial: WindowMinute or WindowHour
}

// RetryAfter returns the whole seconds until the reset boundary, never
// negative. Used for the Retry-After header on denials.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.Reset.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// entry holds the bucket state for one tenantID:keyID key. Auth entries
// (":auth" suffix) carry only a minute bucket and never consult overrides.
type entry struct {
	mu             sync.Mutex
	minute         *bucket
	hour           *bucket // nil for auth entries
	custom         *model.TenantOverride
	limitsLoadedAt time.Time
	reloading      bool
}

type ipEntry struct {
	mu     sync.Mutex
	bucket *bucket
}

// Limiter is the process-wide admission controller. Safe for concurrent use:
// the key maps are sync.Maps and each entry carries its own lock, so bucket
// arithmetic for one key never contends with another key's.
type Limiter struct {
	overrides OverrideSource
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	entries sync.Map // string -> *entry
	ips     sync.Map // string -> *ipEntry
}

// New creates a Limiter. overrides may be nil, in which case defaults always
// apply.
func New(overrides OverrideSource, logger *slog.Logger, opts Options) *Limiter {
	def := DefaultOptions()
	if opts.PerMinute <= 0 {
		opts.PerMinute = def.PerMinute
	}
	if opts.PerHour <= 0 {
		opts.PerHour = def.PerHour
	}
	if opts.AuthPerMinute <= 0 {
		opts.AuthPerMinute = def.AuthPerMinute
	}
	if opts.IPPerMinute <= 0 {
		opts.IPPerMinute = def.IPPerMinute
	}
	if opts.OverrideTTL <= 0 {
		opts.OverrideTTL = def.OverrideTTL
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = def.IdleTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = def.MaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	return &Limiter{
		overrides: overrides,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Allow runs the dual-window admission check for an authenticated request.
// The minute window is checked first; a denial there skips the hour check.
// A denial by the hour window refunds the minute token already consumed so
// the slower window's rejection does not cost the faster window's allowance.
func (l *Limiter) Allow(ctx context.Context, tenantID, keyID string) Result {
	e := l.lookup(ctx, tenantID, keyID)
	now := l.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	l.maybeRefresh(e, tenantID, now)

	if !e.minute.take(now) {
		return Result{
			Limit:  int(e.minute.capacity),
			Reset:  nextMinute(now),
			Window: WindowMinute,
		}
	}
	if !e.hour.take(now) {
		e.minute.refund()
		return Result{
			Limit:  int(e.hour.capacity),
			Reset:  nextMinute(now),
			Window: WindowHour,
		}
	}
	return Result{
		Allowed:   true,
		Limit:     int(e.minute.capacity),
		Remaining: e.minute.remaining(),
		Reset:     nextMinute(now),
	}
}

// AllowAuth runs the isolated token-endpoint check for a key: a single
// minute bucket with a fixed stricter capacity, no hourly window, no
// override lookup. This protects credential exchange from stuffing attacks
// independent of the tenant's normal traffic allowance.
func (l *Limiter) AllowAuth(tenantID, keyID string) Result {
	key := tenantID + ":" + keyID + ":auth"
	now := l.now()

	v, ok := l.entries.Load(key)
	if !ok {
		v, _ = l.entries.LoadOrStore(key, &entry{
			minute: newBucket(l.opts.AuthPerMinute, time.Minute, now),
		})
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return l.singleWindow(e.minute, now)
}

// AllowIP runs the pre-authentication check for the token endpoint, keyed by
// source IP.
func (l *Limiter) AllowIP(ip string) Result {
	now := l.now()

	v, ok := l.ips.Load(ip)
	if !ok {
		v, _ = l.ips.LoadOrStore(ip, &ipEntry{
			bucket: newBucket(l.opts.IPPerMinute, time.Minute, now),
		})
	}
	e := v.(*ipEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return l.singleWindow(e.bucket, now)
}

func (l *Limiter) singleWindow(b *bucket, now time.Time) Result {
	if !b.take(now) {
		return Result{
			Limit:  int(b.capacity),
			Reset:  nextMinute(now),
			Window: WindowMinute,
		}
	}
	return Result{
		Allowed:   true,
		Limit:     int(b.capacity),
		Remaining: b.remaining(),
		Reset:     nextMinute(now),
	}
}

// Forget drops the bucket state for a key, both the normal and the auth
// entry. Called on revocation so a dead key cannot keep memory allocated
// through repeated failed attempts.
func (l *Limiter) Forget(tenantID, keyID string) {
	key := tenantID + ":" + keyID
	l.entries.Delete(key)
	l.entries.Delete(key + ":auth")
}

// Reset clears all bucket state. Intended for test isolation.
func (l *Limiter) Reset() {
	l.entries.Range(func(k, _ interface{}) bool {
		l.entries.Delete(k)
		return true
	})
	l.ips.Range(func(k, _ interface{}) bool {
		l.ips.Delete(k)
		return true
	})
}

// Size reports the number of tracked key entries (including auth entries).
func (l *Limiter) Size() int {
	n := 0
	l.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// IPSize reports the number of tracked IP buckets.
func (l *Limiter) IPSize() int {
	n := 0
	l.ips.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// lookup returns the entry for tenantID:keyID, creating it on first sight.
// Creation loads the tenant override synchronously so a stored override
// applies from the very first request; two concurrent first requests may
// both query the store, which is harmless.
func (l *Limiter) lookup(ctx context.Context, tenantID, keyID string) *entry {
	key := tenantID + ":" + keyID
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry)
	}

	ov := l.loadOverride(ctx, tenantID)
	perMin, perHour := l.limitsFor(ov)
	now := l.now()
	e := &entry{
		minute:         newBucket(perMin, time.Minute, now),
		hour:           newBucket(perHour, time.Hour, now),
		custom:         ov,
		limitsLoadedAt: now,
	}
	v, _ := l.entries.LoadOrStore(key, e)
	return v.(*entry)
}

// maybeRefresh kicks off an asynchronous override reload once the cached
// snapshot is older than the freshness window. The caller holds e.mu; the
// admission decision in flight keeps using the stale limits.
func (l *Limiter) maybeRefresh(e *entry, tenantID string, now time.Time) {
	if l.overrides == nil || e.reloading {
		return
	}
	if now.Sub(e.limitsLoadedAt) < l.opts.OverrideTTL {
		return
	}
	e.reloading = true
	go func() {
		ov := l.loadOverride(context.Background(), tenantID)
		perMin, perHour := l.limitsFor(ov)

		e.mu.Lock()
		e.custom = ov
		e.minute.setLimit(perMin, time.Minute)
		e.hour.setLimit(perHour, time.Hour)
		e.limitsLoadedAt = l.now()
		e.reloading = false
		e.mu.Unlock()
	}()
}

// loadOverride queries the override source. Any failure, including an
// unprovisioned source, degrades to "no override" rather than surfacing an
// error to the admission path.
func (l *Limiter) loadOverride(ctx context.Context, tenantID string) *model.TenantOverride {
	if l.overrides == nil {
		return nil
	}
	ov, err := l.overrides.FindTenantOverride(ctx, tenantID)
	if err != nil {
		if l.logger != nil {
			l.logger.Debug("tenant override lookup failed, using defaults",
				"tenant_id", tenantID, "error", err)
		}
		return nil
	}
	return ov
}

func (l *Limiter) limitsFor(ov *model.TenantOverride) (perMinute, perHour int) {
	perMinute, perHour = l.opts.PerMinute, l.opts.PerHour
	if ov != nil {
		if ov.PerMinute > 0 {
			perMinute = ov.PerMinute
		}
		if ov.PerHour > 0 {
			perHour = ov.PerHour
		}
	}
	return perMinute, perHour
}

// nextMinute returns the next wall-clock minute boundary after now.
func nextMinute(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}
