package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/ratelimit"
)

// Error codes surfaced by the admission layer. Token failures are
// deliberately indistinguishable from one another.
const (
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeInvalidToken      = "invalid_token"
	ErrCodeInsufficientScope = "insufficient_scope"
	ErrCodeRateLimited       = "rate_limited"
)

// writeOAuthError writes the OAuth2-flavored error envelope used for
// authentication and authorization failures.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

// setRateLimitHeaders writes the X-RateLimit-* trio for an admission result.
// Applied to every response that passed through an admission check, allowed
// or not.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// writeRateLimited writes the 429 denial with Retry-After.
func writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	setRateLimitHeaders(w, res)
	w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    ErrCodeRateLimited,
			Message: "Rate limit exceeded, retry after the reset time",
		},
	})
}
