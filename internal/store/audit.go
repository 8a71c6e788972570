package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pressgate/pressgate/internal/model"
)

// InsertAuditEvent records a lifecycle event. ID and CreatedAt are assigned
// here if unset.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *model.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO audit_events (id, tenant_id, key_id, event, detail, created_at)
		VALUES (:id, :tenant_id, :key_id, :event, :detail, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, ev); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns a tenant's audit trail, newest first, capped at
// limit rows.
func (s *Store) ListAuditEvents(ctx context.Context, tenantID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.AuditEvent
	q := s.db.Rebind(`SELECT * FROM audit_events WHERE tenant_id = ?
		ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &out, q, tenantID, limit); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
