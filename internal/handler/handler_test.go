package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pressgate/pressgate/internal/keypair"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/server/middleware"
	"github.com/pressgate/pressgate/internal/store"
	"github.com/pressgate/pressgate/internal/token"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLimiter(st *store.Store) *ratelimit.Limiter {
	opts := ratelimit.DefaultOptions()
	opts.DisableSweep = true
	return ratelimit.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

// seedKey creates an API key directly in the store and returns it with the
// plaintext secret.
func seedKey(t *testing.T, st *store.Store, tenantID string, scopes []string) (*model.APIKey, string) {
	t.Helper()
	pair, err := keypair.Generate(true)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	key := &model.APIKey{
		KeyID:      pair.KeyID,
		TenantID:   tenantID,
		Name:       "test key",
		SecretHash: pair.SecretHash,
		Scopes:     model.ScopeList(scopes),
		IsTest:     true,
		CreatedBy:  "cli",
	}
	if err := st.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	return key, pair.Secret
}

func authedRequest(method, target string, body io.Reader, apiCtx *middleware.APIContext) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(middleware.WithAPIContext(req.Context(), apiCtx))
}

func adminCtx(key *model.APIKey) *middleware.APIContext {
	return &middleware.APIContext{
		TenantID: key.TenantID,
		KeyID:    key.KeyID,
		Scopes:   key.Scopes,
	}
}

// ---------------------------------------------------------------------------
// Token endpoint
// ---------------------------------------------------------------------------

func newTokenHandler(st *store.Store) *TokenHandler {
	return NewTokenHandler(st, token.NewService("test-secret"), newTestLimiter(st),
		nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTokenIssueForm(t *testing.T) {
	st := newTestStore(t)
	key, secret := seedKey(t, st, "tenant-1", []string{"read", "write"})
	h := newTokenHandler(st)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {key.KeyID},
		"client_secret": {secret},
	}
	req := httptest.NewRequest("POST", "/api/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.Issue(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp model.TokenResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 900 {
		t.Errorf("expires_in = %d, want 900", resp.ExpiresIn)
	}
	if resp.Scope != "read write" {
		t.Errorf("scope = %q, want \"read write\"", resp.Scope)
	}

	// The token must verify back to the key's identity.
	payload, err := token.NewService("test-secret").Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if payload.TenantID != "tenant-1" || payload.KeyID != key.KeyID {
		t.Errorf("payload = %+v", payload)
	}
}

func TestTokenIssueJSON(t *testing.T) {
	st := newTestStore(t)
	key, secret := seedKey(t, st, "tenant-1", []string{"read"})
	h := newTokenHandler(st)

	body, _ := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     key.KeyID,
		ClientSecret: secret,
	})
	req := httptest.NewRequest("POST", "/api/v1/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Issue(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestTokenIssueBadCredentials(t *testing.T) {
	st := newTestStore(t)
	key, _ := seedKey(t, st, "tenant-1", []string{"read"})
	h := newTokenHandler(st)

	cases := []struct {
		name             string
		clientID, secret string
	}{
		{"unknown key", "pk_test_nope", "sk_test_whatever"},
		{"wrong secret", key.KeyID, "sk_test_wrong"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {tc.clientID},
				"client_secret": {tc.secret},
			}
			req := httptest.NewRequest("POST", "/api/v1/token", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rr := httptest.NewRecorder()
			h.Issue(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status %d, want 401", rr.Code)
			}
			var body model.OAuthError
			json.NewDecoder(rr.Body).Decode(&body)
			if body.ErrorDescription != "Invalid client credentials" {
				t.Errorf("description = %q, credential failures must be uniform", body.ErrorDescription)
			}
		})
	}
}

func TestTokenIssueWrongGrantType(t *testing.T) {
	st := newTestStore(t)
	h := newTokenHandler(st)

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {"pk_test_a"},
		"client_secret": {"sk_test_a"},
	}
	req := httptest.NewRequest("POST", "/api/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.Issue(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestTokenIssueAuthBucket(t *testing.T) {
	st := newTestStore(t)
	key, _ := seedKey(t, st, "tenant-1", []string{"read"})
	h := newTokenHandler(st)

	// Ten attempts with a wrong secret exhaust the auth bucket; the 11th is
	// denied before the secret is even compared.
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {key.KeyID},
		"client_secret": {"sk_test_wrong"},
	}
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/api/v1/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.Issue(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest("POST", "/api/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.Issue(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("11th attempt: status %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// ---------------------------------------------------------------------------
// Key management
// ---------------------------------------------------------------------------

func newKeysRouter(st *store.Store, limiter *ratelimit.Limiter) chi.Router {
	h := NewKeysHandler(st, limiter, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Post("/api/v1/keys", h.Create)
	r.Get("/api/v1/keys", h.List)
	r.Delete("/api/v1/keys/{keyID}", h.Revoke)
	return r
}

func TestKeysCreate(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	router := newKeysRouter(st, newTestLimiter(st))

	body, _ := json.Marshal(createKeyRequest{
		Name:   "ingest worker",
		Scopes: []string{"read", "write"},
		IsTest: true,
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("POST", "/api/v1/keys", bytes.NewReader(body), adminCtx(admin)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp createKeyResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.KeyID, "pk_test_") {
		t.Errorf("key_id = %q, want pk_test_ prefix", resp.KeyID)
	}
	if !strings.HasPrefix(resp.Secret, "sk_test_") {
		t.Errorf("secret = %q, want sk_test_ prefix", resp.Secret)
	}
	if resp.TenantID != "tenant-1" {
		t.Errorf("tenant_id = %q, tenant must come from the caller's identity", resp.TenantID)
	}
	if strings.Contains(rr.Body.String(), resp.SecretHash) {
		t.Error("secret hash leaked in response")
	}

	stored, err := st.GetAPIKey(context.Background(), resp.KeyID)
	if err != nil {
		t.Fatalf("created key not stored: %v", err)
	}
	if !keypair.VerifySecret(resp.Secret, stored.SecretHash) {
		t.Error("stored hash does not match returned secret")
	}
}

func TestKeysCreateValidation(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	router := newKeysRouter(st, newTestLimiter(st))

	cases := []createKeyRequest{
		{Name: "", Scopes: []string{"read"}},
		{Name: "x", Scopes: nil},
		{Name: "x", Scopes: []string{"superuser"}},
	}
	for i, tc := range cases {
		body, _ := json.Marshal(tc)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authedRequest("POST", "/api/v1/keys", bytes.NewReader(body), adminCtx(admin)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("case %d: status %d, want 400", i, rr.Code)
		}
	}
}

func TestKeysListAndRevoke(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	victim, _ := seedKey(t, st, "tenant-1", []string{"read"})
	limiter := newTestLimiter(st)
	limiter.Allow(context.Background(), "tenant-1", victim.KeyID) // allocate bucket state
	router := newKeysRouter(st, limiter)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("GET", "/api/v1/keys", nil, adminCtx(admin)))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status %d", rr.Code)
	}
	var listResp struct {
		Keys []model.APIKey `json:"keys"`
	}
	json.NewDecoder(rr.Body).Decode(&listResp)
	if len(listResp.Keys) != 2 {
		t.Fatalf("listed %d keys, want 2", len(listResp.Keys))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("DELETE", "/api/v1/keys/"+victim.KeyID, nil, adminCtx(admin)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("revoke: status %d, body %s", rr.Code, rr.Body.String())
	}
	if limiter.Size() != 0 {
		t.Errorf("limiter still tracks %d entries after revocation", limiter.Size())
	}

	// Revocation is terminal; a second attempt finds nothing to revoke.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("DELETE", "/api/v1/keys/"+victim.KeyID, nil, adminCtx(admin)))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second revoke: status %d, want 404", rr.Code)
	}
}

func TestKeysRevokeForeignTenant(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	other, _ := seedKey(t, st, "tenant-2", []string{"read"})
	router := newKeysRouter(st, newTestLimiter(st))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("DELETE", "/api/v1/keys/"+other.KeyID, nil, adminCtx(admin)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant revoke: status %d, want 404", rr.Code)
	}

	// The foreign key must be untouched.
	key, err := st.GetAPIKey(context.Background(), other.KeyID)
	if err != nil {
		t.Fatalf("get foreign key: %v", err)
	}
	if key.Revoked() {
		t.Error("foreign tenant's key was revoked")
	}
}

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

func newLimitsRouter(st *store.Store) chi.Router {
	h := NewLimitsHandler(st, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), 100, 1000)
	r := chi.NewRouter()
	r.Get("/api/v1/limits", h.Get)
	r.Put("/api/v1/limits", h.Set)
	r.Delete("/api/v1/limits", h.Clear)
	return r
}

func TestLimitsGetDefaults(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	router := newLimitsRouter(st)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("GET", "/api/v1/limits", nil, adminCtx(admin)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp limitsResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.PerMinute != 100 || resp.PerHour != 1000 || resp.Custom {
		t.Errorf("defaults response = %+v", resp)
	}
}

func TestLimitsSetGetClear(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	router := newLimitsRouter(st)

	body, _ := json.Marshal(setLimitsRequest{PerMinute: 500, PerHour: 5000})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("PUT", "/api/v1/limits", bytes.NewReader(body), adminCtx(admin)))
	if rr.Code != http.StatusOK {
		t.Fatalf("set: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("GET", "/api/v1/limits", nil, adminCtx(admin)))
	var resp limitsResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.PerMinute != 500 || resp.PerHour != 5000 || !resp.Custom {
		t.Errorf("after set: %+v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("DELETE", "/api/v1/limits", nil, adminCtx(admin)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest("DELETE", "/api/v1/limits", nil, adminCtx(admin)))
	if rr.Code != http.StatusNotFound {
		t.Errorf("clear with nothing stored: status %d, want 404", rr.Code)
	}
}

func TestLimitsSetValidation(t *testing.T) {
	st := newTestStore(t)
	admin, _ := seedKey(t, st, "tenant-1", []string{"admin"})
	router := newLimitsRouter(st)

	cases := []setLimitsRequest{
		{PerMinute: 0, PerHour: 1000},
		{PerMinute: 100, PerHour: 0},
		{PerMinute: -5, PerHour: 1000},
		{PerMinute: 500, PerHour: 100},
	}
	for i, tc := range cases {
		body, _ := json.Marshal(tc)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authedRequest("PUT", "/api/v1/limits", bytes.NewReader(body), adminCtx(admin)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("case %d: status %d, want 400", i, rr.Code)
		}
	}
}
