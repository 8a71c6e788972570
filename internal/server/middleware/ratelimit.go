package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/scope"
)

// RateLimit enforces the per-key dual-window admission check. Must run after
// Authenticate. Every response carries the X-RateLimit-* headers; denials
// get a 429 with Retry-After.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiCtx := GetAPIContext(r.Context())
			if apiCtx == nil {
				// Misordered chain; let the scope check reject it.
				next.ServeHTTP(w, r)
				return
			}

			res := limiter.Allow(r.Context(), apiCtx.TenantID, apiCtx.KeyID)
			m.RecordAdmission(res.Allowed, res.Window)
			if !res.Allowed {
				writeRateLimited(w, res)
				return
			}
			setRateLimitHeaders(w, res)
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit protects the unauthenticated token endpoint with a per-source-
// IP bucket, before any credential is examined.
func IPRateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.AllowIP(clientIP(r))
			m.RecordAdmission(res.Allowed, res.Window)
			if !res.Allowed {
				writeRateLimited(w, res)
				return
			}
			setRateLimitHeaders(w, res)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope enforces a scope requirement against the authenticated
// identity. Must run after Authenticate.
func RequireScope(required scope.Scope, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiCtx := GetAPIContext(r.Context())
			if apiCtx == nil {
				m.RecordAuthFailure(ErrCodeInvalidRequest)
				writeOAuthError(w, http.StatusUnauthorized, ErrCodeInvalidRequest,
					"Authentication required")
				return
			}
			if !scope.Has(apiCtx.Scopes, required) {
				m.RecordAuthFailure(ErrCodeInsufficientScope)
				writeOAuthError(w, http.StatusForbidden, ErrCodeInsufficientScope,
					"Insufficient scope for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FloodGuard is a coarse per-IP ceiling over the whole API, sitting above
// the admission buckets. It exists to shed abusive traffic early, not to
// enforce tenant policy.
func FloodGuard(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// clientIP returns the request's source IP without the port. Runs behind
// chi's RealIP middleware, so proxied deployments see the forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
