package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pressgate/pressgate/internal/model"
)

type memSink struct {
	mu     sync.Mutex
	events []*model.AuditEvent
	err    error
}

func (m *memSink) InsertAuditEvent(ctx context.Context, ev *model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func TestRecordIsAsyncButFlushable(t *testing.T) {
	sink := &memSink{}
	r := New(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r.Record(EventKeyCreated, "tenant-1", "pk_test_a", "created")
	r.Record(EventKeyRevoked, "tenant-1", "pk_test_a", "revoked")
	r.Flush()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("got %d events, want 2", len(sink.events))
	}
}

func TestRecordSwallowsSinkErrors(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	r := New(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Must not panic or propagate.
	r.Record(EventLimitsUpdated, "tenant-1", "", "500/min")
	r.Flush()
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Record(EventKeyCreated, "tenant-1", "pk_test_a", "")
	r.Flush()
}
