package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/identity"
)

type AvailabilityEngine interface {
	SlotsForDay(ctx context.Context, tenantID, date, serviceID, staffID string) ([]availability.Slot, error)
}

type AvailabilityHandler struct {
	engine AvailabilityEngine
	logger *slog.Logger
}

func NewAvailabilityHandler(engine AvailabilityEngine, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{engine: engine, logger: logger}
}

type slotItem struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	StaffID string `json:"staff_id"`
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if date == "" || serviceID == "" {
		writeError(w, h.logger, apperr.Invalidf("date and service_id are required"))
		return
	}

	tenantID := identity.TenantFromContext(r.Context())
	slots, err := h.engine.SlotsForDay(r.Context(), tenantID, date, serviceID, strings.TrimSpace(q.Get("staff_id")))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	out := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotItem{
			Start:   s.Start.UTC().Format(time.RFC3339),
			End:     s.End.UTC().Format(time.RFC3339),
			StaffID: s.StaffID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
