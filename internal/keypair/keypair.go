// Package keypair generates the credential pairs issued to API consumers:
// a public key identifier and a one-time-revealable secret. Only the SHA-256
// hash of the secret is ever persisted.
package keypair

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	keyIDBytes  = 12 // 24 hex chars after the prefix
	secretBytes = 32 // 64 hex chars after the prefix
)

// Pair is a freshly generated credential pair. Secret is shown to the caller
// exactly once; SecretHash is what gets stored.
type Pair struct {
	KeyID      string
	Secret     string
	SecretHash string
}

// Generate produces a new key pair. Test keys carry pk_test_/sk_test_
// prefixes so they are identifiable in logs and dashboards without a lookup.
func Generate(isTest bool) (Pair, error) {
	env := "live"
	if isTest {
		env = "test"
	}

	id := make([]byte, keyIDBytes)
	if _, err := rand.Read(id); err != nil {
		return Pair{}, fmt.Errorf("generate key id: %w", err)
	}
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return Pair{}, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := "sk_" + env + "_" + hex.EncodeToString(secret)
	return Pair{
		KeyID:      "pk_" + env + "_" + hex.EncodeToString(id),
		Secret:     plaintext,
		SecretHash: HashSecret(plaintext),
	}, nil
}

// HashSecret returns the hex-encoded SHA-256 digest of a plaintext secret.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// VerifySecret compares a plaintext secret against a stored hash in constant
// time.
func VerifySecret(secret, secretHash string) bool {
	computed := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(secretHash)) == 1
}
