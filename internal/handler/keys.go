package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pressgate/pressgate/internal/audit"
	"github.com/pressgate/pressgate/internal/keypair"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/scope"
	"github.com/pressgate/pressgate/internal/server/middleware"
	"github.com/pressgate/pressgate/internal/store"
)

// KeysHandler manages a tenant's API keys. All routes require the admin
// scope; the tenant is always taken from the authenticated identity, never
// from the request, so a key can only ever see its own tenant.
type KeysHandler struct {
	store   *store.Store
	limiter *ratelimit.Limiter
	audit   *audit.Recorder
	logger  *slog.Logger
}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler(st *store.Store, limiter *ratelimit.Limiter, rec *audit.Recorder, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{store: st, limiter: limiter, audit: rec, logger: logger}
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
	IsTest bool     `json:"is_test"`
}

// createKeyResponse carries the plaintext secret exactly once. It is never
// retrievable afterwards.
type createKeyResponse struct {
	model.APIKey
	Secret string `json:"secret"`
}

// Create mints a new key pair for the calling tenant.
// POST /api/v1/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if len(req.Scopes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one scope is required")
		return
	}
	for _, s := range req.Scopes {
		if !scope.Valid(s) {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown scope: "+s)
			return
		}
	}

	pair, err := keypair.Generate(req.IsTest)
	if err != nil {
		h.logger.Error("key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate key")
		return
	}

	key := &model.APIKey{
		KeyID:      pair.KeyID,
		TenantID:   apiCtx.TenantID,
		Name:       req.Name,
		SecretHash: pair.SecretHash,
		Scopes:     model.ScopeList(req.Scopes),
		IsTest:     req.IsTest,
		CreatedBy:  apiCtx.KeyID,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("key insert failed", "tenant_id", apiCtx.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create key")
		return
	}

	h.audit.Record(audit.EventKeyCreated, apiCtx.TenantID, key.KeyID, "name="+req.Name)
	writeJSON(w, http.StatusCreated, createKeyResponse{
		APIKey: *key,
		Secret: pair.Secret,
	})
}

// List returns all of the tenant's keys, revoked included, newest first.
// GET /api/v1/keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())

	keys, err := h.store.ListAPIKeys(r.Context(), apiCtx.TenantID)
	if err != nil {
		h.logger.Error("key list failed", "tenant_id", apiCtx.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to list keys")
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

// Revoke terminally disables a key and drops its rate-limit state.
// DELETE /api/v1/keys/{keyID}
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())
	keyID := chi.URLParam(r, "keyID")

	// Ownership check before the revocation so a foreign key ID is
	// indistinguishable from an absent one.
	key, err := h.store.GetAPIKey(r.Context(), keyID)
	if err != nil || key.TenantID != apiCtx.TenantID {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("key fetch failed", "key_id", keyID, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to revoke key")
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "No such key")
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "No such key")
			return
		}
		h.logger.Error("key revoke failed", "key_id", keyID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to revoke key")
		return
	}

	// A revoked key must not keep bucket memory alive through failed retries.
	h.limiter.Forget(apiCtx.TenantID, keyID)
	h.audit.Record(audit.EventKeyRevoked, apiCtx.TenantID, keyID, "")
	w.WriteHeader(http.StatusNoContent)
}
