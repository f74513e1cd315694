package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/booking"
	"github.com/bookline/bookline/internal/identity"
)

// BookingStore is the appointment lifecycle consumed by the HTTP layer.
type BookingStore interface {
	Create(ctx context.Context, tenantID string, req booking.CreateRequest) (booking.Appointment, error)
	Update(ctx context.Context, tenantID, id string, patch booking.Patch) error
	Delete(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (booking.Appointment, error)
	List(ctx context.Context, tenantID string, from, to time.Time, staffID string, limit int) ([]booking.Appointment, error)
}

type BookingHandler struct {
	store  BookingStore
	logger *slog.Logger
}

func NewBookingHandler(store BookingStore, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{store: store, logger: logger}
}

// Appointments dispatches the collection endpoint: POST creates, GET lists.
func (h *BookingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		methodNotAllowed(w)
	}
}

type createAppointmentRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	Start         string `json:"start"`
	Notes         string `json:"notes"`
}

type appointmentResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Start           string `json:"start"`
	End             string `json:"end"`
	StaffID         string `json:"staff_id"`
	ServiceID       string `json:"service_id"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Source          string `json:"source"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toResponse(appt booking.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              appt.ID,
		Status:          string(appt.Status),
		Start:           appt.Start.UTC().Format(time.RFC3339),
		End:             appt.End.UTC().Format(time.RFC3339),
		StaffID:         appt.StaffID,
		ServiceID:       appt.ServiceID,
		CustomerName:    appt.Customer.Name,
		CustomerPhone:   appt.Customer.Phone,
		Notes:           appt.Notes,
		Source:          string(appt.Source),
		ExternalEventID: appt.ExternalEventID,
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Invalidf("invalid json body"))
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, h.logger, apperr.Invalidf("start must be RFC 3339"))
		return
	}

	tenantID := identity.TenantFromContext(r.Context())
	appt, err := h.store.Create(r.Context(), tenantID, booking.CreateRequest{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		ServiceID:     req.ServiceID,
		StaffID:       req.StaffID,
		Start:         start,
		Notes:         req.Notes,
		Source:        booking.SourceOnline,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

type updateAppointmentRequest struct {
	ID    string    `json:"id"`
	Patch patchBody `json:"patch"`
}

type patchBody struct {
	Start     *string `json:"start"`
	StaffID   *string `json:"staff_id"`
	ServiceID *string `json:"service_id"`
	Status    *string `json:"status"`
	Notes     *string `json:"notes"`
}

func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Invalidf("invalid json body"))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, h.logger, apperr.Invalidf("id is required"))
		return
	}

	patch := booking.Patch{
		StaffID:   req.Patch.StaffID,
		ServiceID: req.Patch.ServiceID,
		Status:    req.Patch.Status,
		Notes:     req.Patch.Notes,
	}
	if req.Patch.Start != nil {
		start, err := time.Parse(time.RFC3339, *req.Patch.Start)
		if err != nil {
			writeError(w, h.logger, apperr.Invalidf("patch.start must be RFC 3339"))
			return
		}
		patch.Start = &start
	}

	tenantID := identity.TenantFromContext(r.Context())
	if err := h.store.Update(r.Context(), tenantID, req.ID, patch); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type deleteAppointmentRequest struct {
	ID string `json:"id"`
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req deleteAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Invalidf("invalid json body"))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, h.logger, apperr.Invalidf("id is required"))
		return
	}

	tenantID := identity.TenantFromContext(r.Context())
	if err := h.store.Delete(r.Context(), tenantID, req.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, h.logger, apperr.Invalidf("id is required"))
		return
	}

	tenantID := identity.TenantFromContext(r.Context())
	appt, err := h.store.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"), time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		writeError(w, h.logger, apperr.Invalidf("from must be RFC 3339"))
		return
	}
	to, err := parseTimeParam(q.Get("to"), time.Now().UTC().AddDate(0, 0, 30))
	if err != nil {
		writeError(w, h.logger, apperr.Invalidf("to must be RFC 3339"))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, apperr.Invalidf("limit must be an integer"))
			return
		}
	}

	tenantID := identity.TenantFromContext(r.Context())
	appts, err := h.store.List(r.Context(), tenantID, from, to, strings.TrimSpace(q.Get("staff_id")), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	out := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		out = append(out, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
