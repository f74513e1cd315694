package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/identity"
)

// CalendarHandler drives the per-tenant Google OAuth connect flow. The
// callback endpoint is registered outside the auth middleware because Google
// redirects the browser there without a bearer token; the tenant rides in the
// signed state parameter instead.
type CalendarHandler struct {
	oauth  *oauth2.Config
	tokens *calendar.TokenStore
	signer *identity.StateSigner
	logger *slog.Logger
}

func NewCalendarHandler(oauth *oauth2.Config, tokens *calendar.TokenStore, signer *identity.StateSigner, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{oauth: oauth, tokens: tokens, signer: signer, logger: logger}
}

func (h *CalendarHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.oauth == nil {
		writeError(w, h.logger, apperr.Invalidf("calendar integration is not configured"))
		return
	}

	tenantID := identity.TenantFromContext(r.Context())
	state := h.signer.Sign(tenantID)
	url := h.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": url})
}

func (h *CalendarHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.oauth == nil {
		writeError(w, h.logger, apperr.Invalidf("calendar integration is not configured"))
		return
	}

	tenantID, err := h.signer.Verify(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, h.logger, apperr.Invalidf("invalid state parameter"))
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, h.logger, apperr.Invalidf("missing authorization code"))
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("oauth code exchange failed", "tenant_id", tenantID, "err", err)
		writeError(w, h.logger, apperr.Invalidf("authorization code exchange failed"))
		return
	}
	if err := h.tokens.Save(r.Context(), tenantID, tok); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("calendar connected", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *CalendarHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	tenantID := identity.TenantFromContext(r.Context())
	if err := h.tokens.Delete(r.Context(), tenantID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}
