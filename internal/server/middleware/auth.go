package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/store"
	"github.com/pressgate/pressgate/internal/token"
)

// KeyStore is the subset of the persistence layer the auth middleware needs:
// the live revocation lookup and the best-effort last-used update.
type KeyStore interface {
	FindAPIKeyByKeyID(ctx context.Context, keyID string) (*model.APIKey, error)
	TouchLastUsed(ctx context.Context, keyID, ip string) error
}

// Authenticate returns the middleware every programmatic API request passes
// through:
//
//  1. Extract the bearer token from the Authorization header.
//  2. Verify signature, issuer, audience, and expiry.
//  3. Look the key up by its public identifier — the live revocation check.
//     A cryptographically valid token dies here the moment its key is
//     revoked.
//  4. Record last-used as a detached best-effort write.
//  5. Attach the verified APIContext for downstream scope and rate-limit
//     checks.
//
// Rate limiting and scope enforcement are separate middlewares so the token
// endpoint can reuse the IP limiter without a token.
func Authenticate(tokens *token.Service, keys KeyStore, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				m.RecordAuthFailure(ErrCodeInvalidRequest)
				writeOAuthError(w, http.StatusUnauthorized, ErrCodeInvalidRequest,
					"Missing or malformed Authorization header")
				return
			}

			payload, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				m.RecordAuthFailure(ErrCodeInvalidToken)
				writeOAuthError(w, http.StatusUnauthorized, ErrCodeInvalidToken,
					"Token is invalid or expired")
				return
			}

			key, err := keys.FindAPIKeyByKeyID(r.Context(), payload.KeyID)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					// Store outage: fail closed with the same generic error.
					logger.Error("revocation check failed", "key_id", payload.KeyID, "error", err)
				}
				m.RecordAuthFailure(ErrCodeInvalidToken)
				writeOAuthError(w, http.StatusUnauthorized, ErrCodeInvalidToken,
					"API key has been revoked")
				return
			}

			// Best effort; never blocks or fails the request.
			ip := clientIP(r)
			go func() {
				if err := keys.TouchLastUsed(context.Background(), key.KeyID, ip); err != nil {
					logger.Warn("last-used update failed", "key_id", key.KeyID, "error", err)
				}
			}()

			apiCtx := &APIContext{
				TenantID: payload.TenantID,
				KeyID:    payload.KeyID,
				Scopes:   payload.Scopes,
			}
			if holder, ok := r.Context().Value(apiHolderKey).(*apiContextHolder); ok {
				holder.apiCtx = apiCtx
			}
			ctx := context.WithValue(r.Context(), apiContextKey, apiCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
