// Package audit records key-lifecycle and limit-change events. Recording is
// fire-and-forget: failures are logged and swallowed, and the request path
// never waits on a write.
package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pressgate/pressgate/internal/model"
)

// Event names written by the admin surface and CLI.
const (
	EventKeyCreated    = "key.created"
	EventKeyRevoked    = "key.revoked"
	EventLimitsUpdated = "limits.updated"
	EventLimitsCleared = "limits.cleared"
)

// Sink is the persistence interface the recorder writes through.
type Sink interface {
	InsertAuditEvent(ctx context.Context, ev *model.AuditEvent) error
}

// Recorder writes audit events asynchronously. The zero value is unusable;
// construct with New. A nil *Recorder is safe to call and records nothing.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Recorder writing to sink.
func New(sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Record queues an audit event. Returns immediately; the write happens on a
// detached goroutine with a background context so request cancellation does
// not lose the event.
func (r *Recorder) Record(event, tenantID, keyID, detail string) {
	if r == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ev := &model.AuditEvent{
			TenantID: tenantID,
			KeyID:    keyID,
			Event:    event,
			Detail:   detail,
		}
		if err := r.sink.InsertAuditEvent(context.Background(), ev); err != nil {
			r.logger.Warn("audit write failed",
				"event", event, "tenant_id", tenantID, "key_id", keyID, "error", err)
		}
	}()
}

// Flush blocks until all queued events have been attempted. Used by tests
// and graceful shutdown.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
