package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bookline/bookline/internal/availability"
)

type fakeEngine struct {
	slots       []availability.Slot
	err         error
	lastTenant  string
	lastDate    string
	lastService string
	lastStaff   string
}

func (f *fakeEngine) SlotsForDay(_ context.Context, tenantID, date, serviceID, staffID string) ([]availability.Slot, error) {
	f.lastTenant = tenantID
	f.lastDate = date
	f.lastService = serviceID
	f.lastStaff = staffID
	return f.slots, f.err
}

func TestAvailabilitySlots(t *testing.T) {
	engine := &fakeEngine{slots: []availability.Slot{{
		Start:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		StaffID: "alice",
	}}}
	h := NewAvailabilityHandler(engine, discardLogger())

	rec := doRequest(h.Slots, http.MethodGet, "/api/v1/availability?date=2026-03-02&service_id=cut&staff_id=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}
	if engine.lastTenant != "t1" || engine.lastDate != "2026-03-02" || engine.lastService != "cut" || engine.lastStaff != "alice" {
		t.Errorf("engine called with %q %q %q %q", engine.lastTenant, engine.lastDate, engine.lastService, engine.lastStaff)
	}

	var resp []slotItem
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if len(resp) != 1 || resp[0].Start != "2026-03-02T09:00:00Z" || resp[0].StaffID != "alice" {
		t.Errorf("response = %v", resp)
	}
}

func TestAvailabilitySlotsEmptyList(t *testing.T) {
	h := NewAvailabilityHandler(&fakeEngine{slots: []availability.Slot{}}, discardLogger())

	rec := doRequest(h.Slots, http.MethodGet, "/api/v1/availability?date=2026-03-07&service_id=cut", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty json array", body)
	}
}

func TestAvailabilitySlotsMissingParams(t *testing.T) {
	h := NewAvailabilityHandler(&fakeEngine{}, discardLogger())

	for _, target := range []string{
		"/api/v1/availability?service_id=cut",
		"/api/v1/availability?date=2026-03-02",
	} {
		rec := doRequest(h.Slots, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}
