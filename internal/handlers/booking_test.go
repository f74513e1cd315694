package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/booking"
	"github.com/bookline/bookline/internal/identity"
)

type fakeBookingStore struct {
	createErr error
	updateErr error
	deleteErr error
	getErr    error

	lastTenant string
	lastCreate booking.CreateRequest
	lastPatch  booking.Patch
	appt       booking.Appointment
	list       []booking.Appointment
}

func (f *fakeBookingStore) Create(_ context.Context, tenantID string, req booking.CreateRequest) (booking.Appointment, error) {
	f.lastTenant = tenantID
	f.lastCreate = req
	if f.createErr != nil {
		return booking.Appointment{}, f.createErr
	}
	return f.appt, nil
}

func (f *fakeBookingStore) Update(_ context.Context, tenantID, _ string, patch booking.Patch) error {
	f.lastTenant = tenantID
	f.lastPatch = patch
	return f.updateErr
}

func (f *fakeBookingStore) Delete(_ context.Context, tenantID, _ string) error {
	f.lastTenant = tenantID
	return f.deleteErr
}

func (f *fakeBookingStore) Get(_ context.Context, tenantID, _ string) (booking.Appointment, error) {
	f.lastTenant = tenantID
	if f.getErr != nil {
		return booking.Appointment{}, f.getErr
	}
	return f.appt, nil
}

func (f *fakeBookingStore) List(_ context.Context, tenantID string, _, _ time.Time, _ string, _ int) ([]booking.Appointment, error) {
	f.lastTenant = tenantID
	return f.list, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doRequest(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(identity.ContextWithTenant(req.Context(), "t1"))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func sampleAppointment() booking.Appointment {
	return booking.Appointment{
		ID:        "a1",
		TenantID:  "t1",
		Customer:  booking.Customer{Name: "Dana", Phone: "555-0101"},
		ServiceID: "cut",
		StaffID:   "alice",
		Start:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		Status:    booking.StatusPending,
		Source:    booking.SourceOnline,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAppointment(t *testing.T) {
	store := &fakeBookingStore{appt: sampleAppointment()}
	h := NewBookingHandler(store, discardLogger())

	body := `{"customer_name":"Dana","customer_phone":"555-0101","service_id":"cut","staff_id":"alice","start":"2026-03-02T09:00:00Z"}`
	rec := doRequest(h.Create, http.MethodPost, "/api/v1/appointments", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body)
	}
	if store.lastTenant != "t1" {
		t.Errorf("tenant = %q, want t1", store.lastTenant)
	}
	if store.lastCreate.Source != booking.SourceOnline {
		t.Errorf("source = %q, want online", store.lastCreate.Source)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if resp["id"] != "a1" || resp["status"] != "pending" {
		t.Errorf("response = %v", resp)
	}
}

func TestCreateAppointmentBadStart(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, discardLogger())

	body := `{"customer_name":"Dana","service_id":"cut","staff_id":"alice","start":"tomorrow at 9"}`
	rec := doRequest(h.Create, http.MethodPost, "/api/v1/appointments", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAppointmentConflict(t *testing.T) {
	store := &fakeBookingStore{createErr: apperr.ErrConflict}
	h := NewBookingHandler(store, discardLogger())

	body := `{"customer_name":"Dana","service_id":"cut","staff_id":"alice","start":"2026-03-02T09:00:00Z"}`
	rec := doRequest(h.Create, http.MethodPost, "/api/v1/appointments", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var resp errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if resp.Code != "conflict" {
		t.Errorf("code = %q, want conflict", resp.Code)
	}
}

func TestUpdateAppointmentNotesOnly(t *testing.T) {
	store := &fakeBookingStore{}
	h := NewBookingHandler(store, discardLogger())

	body := `{"id":"a1","patch":{"notes":"moved chairs"}}`
	rec := doRequest(h.Update, http.MethodPost, "/api/v1/appointments/update", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}
	if store.lastPatch.Notes == nil || *store.lastPatch.Notes != "moved chairs" {
		t.Errorf("patch notes = %v", store.lastPatch.Notes)
	}
	if store.lastPatch.Reschedules() {
		t.Error("notes-only patch should not reschedule")
	}
}

func TestUpdateAppointmentRequiresID(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, discardLogger())

	rec := doRequest(h.Update, http.MethodPost, "/api/v1/appointments/update", `{"patch":{"notes":"x"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetAppointmentNotFound(t *testing.T) {
	store := &fakeBookingStore{getErr: apperr.NotFoundf("appointment")}
	h := NewBookingHandler(store, discardLogger())

	rec := doRequest(h.Get, http.MethodGet, "/api/v1/appointments/get?id=a404", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteAppointment(t *testing.T) {
	store := &fakeBookingStore{}
	h := NewBookingHandler(store, discardLogger())

	rec := doRequest(h.Delete, http.MethodPost, "/api/v1/appointments/delete", `{"id":"a1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListAppointmentsBadRange(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, discardLogger())

	rec := doRequest(h.List, http.MethodGet, "/api/v1/appointments/list?from=lastweek", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAppointmentsBadLimit(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, discardLogger())

	rec := doRequest(h.List, http.MethodGet, "/api/v1/appointments?limit=ten", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAppointments(t *testing.T) {
	store := &fakeBookingStore{list: []booking.Appointment{sampleAppointment()}}
	h := NewBookingHandler(store, discardLogger())

	rec := doRequest(h.List, http.MethodGet, "/api/v1/appointments/list", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if len(resp) != 1 || resp[0]["id"] != "a1" {
		t.Errorf("response = %v", resp)
	}
}

func TestAppointmentsDispatch(t *testing.T) {
	store := &fakeBookingStore{appt: sampleAppointment(), list: []booking.Appointment{sampleAppointment()}}
	h := NewBookingHandler(store, discardLogger())

	rec := doRequest(h.Appointments, http.MethodGet, "/api/v1/appointments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}

	body := `{"customer_name":"Dana","service_id":"cut","staff_id":"alice","start":"2026-03-02T09:00:00Z"}`
	rec = doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", rec.Code)
	}

	rec = doRequest(h.Appointments, http.MethodDelete, "/api/v1/appointments", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE status = %d, want 405", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, discardLogger())

	rec := doRequest(h.Create, http.MethodGet, "/api/v1/appointments", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
