// Package store persists API keys, tenant rate-limit overrides, and audit
// events. SQLite is the zero-configuration default; Postgres and MySQL DSNs
// are supported for shared deployments.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps the backing database. All queries are written with `?`
// placeholders and rebound per driver.
type Store struct {
	db *sqlx.DB
}

// Open connects to the given database and runs migrations. Supported drivers
// are "sqlite" (default when empty), "postgres", and "mysql". For sqlite an
// empty DSN opens an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	sqlite := false
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		sqlite = true
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		}
	case "postgres":
		driver = "pgx"
	case "mysql":
		// DSN needs parseTime=true for TIMESTAMP scanning.
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if sqlite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// OpenDir opens the default SQLite store inside dataDir, creating the
// directory if needed. Pass empty string for in-memory.
func OpenDir(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open("sqlite", "")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "pressgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return Open("sqlite", dsn)
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
