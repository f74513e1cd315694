package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/schedule"
)

type ConfigStore interface {
	Get(ctx context.Context, tenantID string) (*schedule.Config, error)
	Put(ctx context.Context, cfg *schedule.Config) error
}

type ConfigHandler struct {
	store  ConfigStore
	logger *slog.Logger
}

func NewConfigHandler(store ConfigStore, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, logger: logger}
}

func (h *ConfigHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *ConfigHandler) get(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantFromContext(r.Context())
	cfg, err := h.store.Get(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ConfigHandler) put(w http.ResponseWriter, r *http.Request) {
	var cfg schedule.Config
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, h.logger, apperr.Invalidf("invalid config document: %s", err))
		return
	}

	// The document can never claim another tenant's slot.
	cfg.TenantID = identity.TenantFromContext(r.Context())
	if err := h.store.Put(r.Context(), &cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
