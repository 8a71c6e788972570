// Package token mints and verifies the short-lived access tokens exchanged
// for API key credentials. Tokens are stateless: revocation is enforced by
// the auth middleware's live key lookup, never here.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer and Audience are fixed for every token this service signs.
	Issuer   = "pressgate"
	Audience = "pressgate-api"

	// TTL is the fixed token lifetime. Clients are expected to re-exchange
	// credentials rather than refresh.
	TTL = 15 * time.Minute
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// wrong issuer or audience, malformed claims, or expiry. Collapsing the
// failure modes keeps the endpoint from acting as a validation oracle.
var ErrInvalidToken = errors.New("token invalid or expired")

// Payload is the verified content of an access token.
type Payload struct {
	TenantID string
	KeyID    string
	Scopes   []string
}

type claims struct {
	TenantID string   `json:"tenant_id"`
	KeyID    string   `json:"key_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Service signs and verifies access tokens with an HMAC secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// NewService creates a token service. The secret must already have been
// validated by config loading; an empty secret here is a programming error.
func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Mint produces a signed token carrying the tenant, key, and scope set.
func (s *Service) Mint(tenantID, keyID string, scopes []string) (string, error) {
	now := s.now()
	c := claims{
		TenantID: tenantID,
		KeyID:    keyID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(s.secret)
}

// Verify checks signature, issuer, audience, and expiry. Every failure maps
// to ErrInvalidToken.
func (s *Service) Verify(tokenStr string) (*Payload, error) {
	c := &claims{}

	t, err := jwt.ParseWithClaims(tokenStr, c,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !t.Valid {
		return nil, ErrInvalidToken
	}

	return &Payload{
		TenantID: c.TenantID,
		KeyID:    c.KeyID,
		Scopes:   c.Scopes,
	}, nil
}
