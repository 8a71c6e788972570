package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// APIKey represents a tenant-scoped API credential. The plaintext secret is
// never stored; only a SHA-256 hash is persisted. Revocation is terminal:
// revoked_at is set once and the key is never deleted.
type APIKey struct {
	KeyID      string     `json:"key_id" db:"key_id"`
	TenantID   string     `json:"tenant_id" db:"tenant_id"`
	Name       string     `json:"name" db:"name"`
	SecretHash string     `json:"-" db:"secret_hash"` // SHA-256 hash, never expose
	Scopes     ScopeList  `json:"scopes" db:"scopes"`
	IsTest     bool       `json:"is_test" db:"is_test"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastUsedIP string     `json:"last_used_ip,omitempty" db:"last_used_ip"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// ScopeList is a list of scope names stored as a JSON array in a single
// text column.
type ScopeList []string

// Value implements driver.Valuer, serializing the list as JSON.
func (s ScopeList) Value() (driver.Value, error) {
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner, deserializing a JSON array from TEXT or BLOB.
func (s *ScopeList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(s))
	case []byte:
		return json.Unmarshal(v, (*[]string)(s))
	default:
		return fmt.Errorf("unsupported scopes column type %T", src)
	}
}

// TenantOverride is a per-tenant replacement for the default rate limits.
// Absence of a row means "use defaults".
type TenantOverride struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	PerMinute int       `json:"per_minute" db:"per_minute"`
	PerHour   int       `json:"per_hour" db:"per_hour"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AuditEvent records a key-lifecycle or limit change. Writes are best-effort
// and must never block the request path.
type AuditEvent struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	KeyID     string    `json:"key_id" db:"key_id"`
	Event     string    `json:"event" db:"event"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
