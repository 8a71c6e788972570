package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressgate/pressgate/internal/audit"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/server/middleware"
	"github.com/pressgate/pressgate/internal/store"
)

// LimitsHandler exposes a tenant's rate-limit configuration. Reads require
// the read scope; writes require admin. Changes take effect on the admission
// path within the override freshness window.
type LimitsHandler struct {
	store            *store.Store
	audit            *audit.Recorder
	logger           *slog.Logger
	defaultPerMinute int
	defaultPerHour   int
}

// NewLimitsHandler creates a LimitsHandler. The defaults are reported to
// tenants that have no stored override.
func NewLimitsHandler(st *store.Store, rec *audit.Recorder, logger *slog.Logger, defaultPerMinute, defaultPerHour int) *LimitsHandler {
	return &LimitsHandler{
		store:            st,
		audit:            rec,
		logger:           logger,
		defaultPerMinute: defaultPerMinute,
		defaultPerHour:   defaultPerHour,
	}
}

type limitsResponse struct {
	TenantID  string `json:"tenant_id"`
	PerMinute int    `json:"per_minute"`
	PerHour   int    `json:"per_hour"`
	Custom    bool   `json:"custom"`
}

// Get returns the tenant's effective limits.
// GET /api/v1/limits
func (h *LimitsHandler) Get(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())

	ov, err := h.store.FindTenantOverride(r.Context(), apiCtx.TenantID)
	if err != nil {
		h.logger.Error("override lookup failed", "tenant_id", apiCtx.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to load limits")
		return
	}

	resp := limitsResponse{
		TenantID:  apiCtx.TenantID,
		PerMinute: h.defaultPerMinute,
		PerHour:   h.defaultPerHour,
	}
	if ov != nil {
		resp.Custom = true
		if ov.PerMinute > 0 {
			resp.PerMinute = ov.PerMinute
		}
		if ov.PerHour > 0 {
			resp.PerHour = ov.PerHour
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type setLimitsRequest struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// Set stores a custom limit pair for the tenant.
// PUT /api/v1/limits
func (h *LimitsHandler) Set(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())

	var req setLimitsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if req.PerMinute <= 0 || req.PerHour <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "per_minute and per_hour must be positive")
		return
	}
	if req.PerHour < req.PerMinute {
		writeError(w, http.StatusBadRequest, "invalid_request", "per_hour must be at least per_minute")
		return
	}

	ov := &model.TenantOverride{
		TenantID:  apiCtx.TenantID,
		PerMinute: req.PerMinute,
		PerHour:   req.PerHour,
	}
	if err := h.store.SetTenantOverride(r.Context(), ov); err != nil {
		h.logger.Error("override write failed", "tenant_id", apiCtx.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to store limits")
		return
	}

	h.audit.Record(audit.EventLimitsUpdated, apiCtx.TenantID, apiCtx.KeyID,
		fmt.Sprintf("per_minute=%d per_hour=%d", req.PerMinute, req.PerHour))
	writeJSON(w, http.StatusOK, limitsResponse{
		TenantID:  apiCtx.TenantID,
		PerMinute: req.PerMinute,
		PerHour:   req.PerHour,
		Custom:    true,
	})
}

// Clear removes the tenant's custom limits, reverting to defaults.
// DELETE /api/v1/limits
func (h *LimitsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	apiCtx := middleware.GetAPIContext(r.Context())

	if err := h.store.ClearTenantOverride(r.Context(), apiCtx.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "No custom limits stored")
			return
		}
		h.logger.Error("override clear failed", "tenant_id", apiCtx.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to clear limits")
		return
	}

	h.audit.Record(audit.EventLimitsCleared, apiCtx.TenantID, apiCtx.KeyID, "")
	w.WriteHeader(http.StatusNoContent)
}
