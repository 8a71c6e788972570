package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pressgate/pressgate/internal/keypair"
	"github.com/pressgate/pressgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestKey(t *testing.T, s *Store, tenantID string, scopes ...string) (*model.APIKey, keypair.Pair) {
	t.Helper()
	pair, err := keypair.Generate(true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	key := &model.APIKey{
		KeyID:      pair.KeyID,
		TenantID:   tenantID,
		Name:       "test key",
		SecretHash: pair.SecretHash,
		Scopes:     model.ScopeList(scopes),
		IsTest:     true,
		CreatedBy:  "tests",
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key, pair
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _ := createTestKey(t, s, "tenant-1", "read", "write")

	got, err := s.FindAPIKeyByKeyID(ctx, created.KeyID)
	if err != nil {
		t.Fatalf("FindAPIKeyByKeyID: %v", err)
	}
	if got.TenantID != "tenant-1" {
		t.Errorf("TenantID: got %q, want tenant-1", got.TenantID)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "read" || got.Scopes[1] != "write" {
		t.Errorf("Scopes: got %v, want [read write]", got.Scopes)
	}
	if !got.IsTest {
		t.Error("IsTest not persisted")
	}
	if got.Revoked() {
		t.Error("fresh key reports revoked")
	}
}

func TestFindAPIKeyExcludesRevoked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, _ := createTestKey(t, s, "tenant-1", "read")

	if err := s.RevokeAPIKey(ctx, key.KeyID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	if _, err := s.FindAPIKeyByKeyID(ctx, key.KeyID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for revoked key, got %v", err)
	}

	// GetAPIKey still sees it, marked revoked.
	got, err := s.GetAPIKey(ctx, key.KeyID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if !got.Revoked() {
		t.Error("GetAPIKey did not report revocation")
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, _ := createTestKey(t, s, "tenant-1", "read")
	if err := s.RevokeAPIKey(ctx, key.KeyID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, key.KeyID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second revoke: expected ErrNotFound, got %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "pk_test_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoke of unknown key: expected ErrNotFound, got %v", err)
	}
}

func TestTouchLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, _ := createTestKey(t, s, "tenant-1", "read")
	if err := s.TouchLastUsed(ctx, key.KeyID, "203.0.113.9"); err != nil {
		t.Fatalf("TouchLastUsed: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.KeyID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt not set")
	}
	if got.LastUsedIP != "203.0.113.9" {
		t.Errorf("LastUsedIP: got %q", got.LastUsedIP)
	}
}

func TestListAPIKeysScopedToTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestKey(t, s, "tenant-1", "read")
	createTestKey(t, s, "tenant-1", "admin")
	createTestKey(t, s, "tenant-2", "read")

	keys, err := s.ListAPIKeys(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys for tenant-1, want 2", len(keys))
	}
}
