package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressgate/pressgate/internal/model"
)

// CreateAPIKey inserts a new API key. CreatedAt is populated on the struct.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(key_id, tenant_id, name, secret_hash, scopes, is_test,
		 last_used_ip, created_by, created_at)
		VALUES (:key_id, :tenant_id, :name, :secret_hash, :scopes, :is_test,
		 '', :created_by, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// FindAPIKeyByKeyID returns the key with the given public identifier,
// filtered to unrevoked keys. This is the live revocation check the auth
// middleware runs on every request.
func (s *Store) FindAPIKeyByKeyID(ctx context.Context, keyID string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind(`SELECT * FROM api_keys WHERE key_id = ? AND revoked_at IS NULL`)
	if err := s.db.GetContext(ctx, &key, q, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return &key, nil
}

// GetAPIKey returns a key regardless of revocation state, for the admin
// surface and CLI.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind(`SELECT * FROM api_keys WHERE key_id = ?`)
	if err := s.db.GetContext(ctx, &key, q, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all keys for a tenant, newest first, revoked included.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.db.Rebind(`SELECT * FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &keys, q, tenantID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key revoked. Revocation is terminal: a key that is
// already revoked, or does not exist, yields ErrNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID string) error {
	q := s.db.Rebind(`UPDATE api_keys SET revoked_at = ? WHERE key_id = ? AND revoked_at IS NULL`)
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed records the last-used timestamp and source IP for a key.
// Called fire-and-forget from the request path; errors are the caller's to
// log and swallow.
func (s *Store) TouchLastUsed(ctx context.Context, keyID, ip string) error {
	q := s.db.Rebind(`UPDATE api_keys SET last_used_at = ?, last_used_ip = ? WHERE key_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), ip, keyID); err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return nil
}
