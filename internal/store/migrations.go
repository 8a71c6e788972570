package store

import "fmt"

// migrate applies the schema. Statements are idempotent and written in the
// dialect intersection of SQLite, Postgres, and MySQL: natural keys instead
// of auto-increment columns, VARCHAR instead of bare TEXT for indexed
// columns.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			key_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			secret_hash VARCHAR(64) NOT NULL,
			scopes TEXT NOT NULL,
			is_test BOOLEAN NOT NULL,
			revoked_at TIMESTAMP NULL,
			last_used_at TIMESTAMP NULL,
			last_used_ip VARCHAR(45) NOT NULL,
			created_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id)`,

		`CREATE TABLE IF NOT EXISTS tenant_limits (
			tenant_id VARCHAR(64) PRIMARY KEY,
			per_minute INTEGER NOT NULL,
			per_hour INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			key_id VARCHAR(64) NOT NULL,
			event VARCHAR(64) NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
