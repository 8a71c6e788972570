package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressgate/pressgate/internal/model"
)

// FindTenantOverride returns the tenant's custom rate limits, or (nil, nil)
// when no override is stored — absence means "use defaults" and is not an
// error.
func (s *Store) FindTenantOverride(ctx context.Context, tenantID string) (*model.TenantOverride, error) {
	var ov model.TenantOverride
	q := s.db.Rebind(`SELECT * FROM tenant_limits WHERE tenant_id = ?`)
	if err := s.db.GetContext(ctx, &ov, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find tenant override: %w", err)
	}
	return &ov, nil
}

// SetTenantOverride creates or replaces a tenant's custom limits. The
// update-then-insert dance keeps the statement portable across all three
// supported drivers.
func (s *Store) SetTenantOverride(ctx context.Context, ov *model.TenantOverride) error {
	ov.UpdatedAt = time.Now().UTC()

	uq := s.db.Rebind(`UPDATE tenant_limits SET per_minute = ?, per_hour = ?, updated_at = ?
		WHERE tenant_id = ?`)
	result, err := s.db.ExecContext(ctx, uq, ov.PerMinute, ov.PerHour, ov.UpdatedAt, ov.TenantID)
	if err != nil {
		return fmt.Errorf("update tenant override: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	iq := s.db.Rebind(`INSERT INTO tenant_limits (tenant_id, per_minute, per_hour, updated_at)
		VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, iq, ov.TenantID, ov.PerMinute, ov.PerHour, ov.UpdatedAt); err != nil {
		return fmt.Errorf("insert tenant override: %w", err)
	}
	return nil
}

// ClearTenantOverride removes a tenant's custom limits, reverting the tenant
// to defaults. Clearing an absent override yields ErrNotFound.
func (s *Store) ClearTenantOverride(ctx context.Context, tenantID string) error {
	q := s.db.Rebind(`DELETE FROM tenant_limits WHERE tenant_id = ?`)
	result, err := s.db.ExecContext(ctx, q, tenantID)
	if err != nil {
		return fmt.Errorf("clear tenant override: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTenantOverrides returns every stored override, ordered by tenant.
func (s *Store) ListTenantOverrides(ctx context.Context) ([]model.TenantOverride, error) {
	var out []model.TenantOverride
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM tenant_limits ORDER BY tenant_id`); err != nil {
		return nil, fmt.Errorf("list tenant overrides: %w", err)
	}
	return out, nil
}
