package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pressgate/pressgate/internal/keypair"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/store"
	"github.com/pressgate/pressgate/internal/token"
)

// TokenHandler exchanges API key credentials for short-lived access tokens.
// The route is guarded by the per-IP limiter upstream; this handler adds the
// per-key auth bucket so a single leaked key identifier cannot be stuffed
// from many addresses.
type TokenHandler struct {
	store   *store.Store
	tokens  *token.Service
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(st *store.Store, tokens *token.Service, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{store: st, tokens: tokens, limiter: limiter, metrics: m, logger: logger}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Issue handles the credential exchange.
// POST /api/v1/token
//
// Accepts form-encoded bodies per OAuth2 convention and JSON for
// convenience. Every credential failure returns the same generic 401 so the
// endpoint cannot be used to probe which key identifiers exist.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}

	if req.GrantType != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			"grant_type must be client_credentials")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request",
			"client_id and client_secret are required")
		return
	}

	key, err := h.store.FindAPIKeyByKeyID(r.Context(), req.ClientID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("key lookup failed", "key_id", req.ClientID, "error", err)
		}
		h.metrics.RecordAuthFailure("invalid_client")
		writeOAuthError(w, http.StatusUnauthorized, "invalid_request", "Invalid client credentials")
		return
	}

	// The auth bucket is keyed per key, isolated from the tenant's normal
	// allowance, and checked before the secret comparison so stuffing a known
	// key identifier burns the attacker's budget, not CPU on hashing.
	res := h.limiter.AllowAuth(key.TenantID, key.KeyID)
	h.metrics.RecordAdmission(res.Allowed, res.Window)
	if !res.Allowed {
		writeAuthRateLimited(w, res)
		return
	}

	if !keypair.VerifySecret(req.ClientSecret, key.SecretHash) {
		h.metrics.RecordAuthFailure("invalid_client")
		writeOAuthError(w, http.StatusUnauthorized, "invalid_request", "Invalid client credentials")
		return
	}

	accessToken, err := h.tokens.Mint(key.TenantID, key.KeyID, key.Scopes)
	if err != nil {
		h.logger.Error("token mint failed", "key_id", key.KeyID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to issue token")
		return
	}

	h.metrics.RecordTokenIssued()
	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(token.TTL.Seconds()),
		Scope:       strings.Join(key.Scopes, " "),
	})
}

func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req tokenRequest
		if err := readJSON(r, &req); err != nil {
			return tokenRequest{}, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return tokenRequest{}, err
	}
	return tokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}, nil
}

func writeAuthRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
	writeError(w, http.StatusTooManyRequests, "rate_limited",
		"Too many token requests for this key, retry after the reset time")
}
