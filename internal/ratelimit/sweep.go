package ratelimit

import (
	"context"
	"sort"
	"time"
)

// Start launches the background sweep loop. It is a no-op when the sweep is
// disabled (automated test environments) and stops when ctx is cancelled.
func (l *Limiter) Start(ctx context.Context) {
	if l.opts.DisableSweep {
		return
	}
	go func() {
		ticker := time.NewTicker(l.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := l.sweep(l.now())
				if removed > 0 && l.logger != nil {
					l.logger.Debug("rate limit sweep",
						"removed", removed, "entries", l.Size(), "ip_buckets", l.IPSize())
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

type agedKey struct {
	key  string
	last time.Time
}

// sweep evicts entries idle longer than IdleTTL, then enforces the hard cap
// by dropping the least-recently-refilled entries down to 80% of the cap.
// Approximate LRU: exactness is not required, only boundedness.
func (l *Limiter) sweep(now time.Time) int {
	removed := 0
	var live []agedKey

	l.entries.Range(func(k, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		last := e.minute.lastRefill
		e.mu.Unlock()

		if now.Sub(last) > l.opts.IdleTTL {
			l.entries.Delete(k)
			removed++
			return true
		}
		live = append(live, agedKey{key: k.(string), last: last})
		return true
	})

	l.ips.Range(func(k, v interface{}) bool {
		e := v.(*ipEntry)
		e.mu.Lock()
		last := e.bucket.lastRefill
		e.mu.Unlock()

		if now.Sub(last) > l.opts.IdleTTL {
			l.ips.Delete(k)
			removed++
		}
		return true
	})

	if len(live) > l.opts.MaxEntries {
		sort.Slice(live, func(i, j int) bool {
			return live[i].last.Before(live[j].last)
		})
		target := l.opts.MaxEntries * 4 / 5
		for _, a := range live[:len(live)-target] {
			l.entries.Delete(a.key)
			removed++
		}
	}

	return removed
}
