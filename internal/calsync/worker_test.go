package calsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/schedule"
)

type fakeProvider struct {
	created   []calendar.Event
	updated   []string
	deleted   []string
	createID  string
	createErr error
	updateErr error
	deleteErr error
}

func (p *fakeProvider) CreateEvent(_ context.Context, _, _ string, ev calendar.Event) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created = append(p.created, ev)
	return p.createID, nil
}

func (p *fakeProvider) UpdateEvent(_ context.Context, _, _, eventID string, _ calendar.Event) error {
	if p.updateErr != nil {
		return p.updateErr
	}
	p.updated = append(p.updated, eventID)
	return nil
}

func (p *fakeProvider) DeleteEvent(_ context.Context, _, _, eventID string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, eventID)
	return nil
}

type fakeConfigs struct {
	cfg *schedule.Config
	err error
}

func (f *fakeConfigs) Get(_ context.Context, _ string) (*schedule.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

type fakeAppointments struct {
	snap     Snapshot
	exists   bool
	eventIDs map[string]string
}

func (f *fakeAppointments) Snapshot(_ context.Context, _, _ string) (Snapshot, bool, error) {
	return f.snap, f.exists, nil
}

func (f *fakeAppointments) SetExternalEventID(_ context.Context, _, appointmentID, eventID string) error {
	if f.eventIDs == nil {
		f.eventIDs = map[string]string{}
	}
	f.eventIDs[appointmentID] = eventID
	return nil
}

func syncConfig() *schedule.Config {
	return &schedule.Config{
		TenantID:               "t1",
		Timezone:               "UTC",
		SlotGranularityMinutes: 30,
		Services: []schedule.Service{
			{ID: "cut", Name: "Haircut", DurationMinutes: 30},
		},
		Staff: []schedule.Staff{
			{ID: "alice", Name: "Alice", WorkingDays: []string{"monday"}},
		},
		SyncEnabled:       true,
		DefaultCalendarID: "primary",
	}
}

func testWorker(provider calendar.Provider, configs ConfigSource, appts AppointmentSource) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorker(nil, NewRepository(), provider, configs, appts, logger, WorkerConfig{})
}

func upsertJob() Job {
	return Job{ID: 1, TenantID: "t1", AppointmentID: "a1", StaffID: "alice", Action: ActionUpsert, MaxAttempts: 5}
}

func TestRunJobCreatesEvent(t *testing.T) {
	provider := &fakeProvider{createID: "ev-123"}
	appts := &fakeAppointments{
		exists: true,
		snap: Snapshot{
			ServiceID:    "cut",
			StaffID:      "alice",
			CustomerName: "Dana",
			Start:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			End:          time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		},
	}
	w := testWorker(provider, &fakeConfigs{cfg: syncConfig()}, appts)

	skip, err := w.runJob(context.Background(), upsertJob())
	if err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if skip != "" {
		t.Fatalf("unexpected skip %q", skip)
	}
	if len(provider.created) != 1 {
		t.Fatalf("created %d events, want 1", len(provider.created))
	}
	if got := appts.eventIDs["a1"]; got != "ev-123" {
		t.Errorf("stored event id = %q, want ev-123", got)
	}
}

func TestRunJobUpdatesExistingEvent(t *testing.T) {
	provider := &fakeProvider{}
	appts := &fakeAppointments{
		exists: true,
		snap:   Snapshot{ServiceID: "cut", StaffID: "alice", CustomerName: "Dana", ExternalEventID: "ev-9"},
	}
	w := testWorker(provider, &fakeConfigs{cfg: syncConfig()}, appts)

	if _, err := w.runJob(context.Background(), upsertJob()); err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if len(provider.updated) != 1 || provider.updated[0] != "ev-9" {
		t.Errorf("updated = %v, want [ev-9]", provider.updated)
	}
	if len(provider.created) != 0 {
		t.Error("should not create when an event id exists")
	}
}

func TestRunJobDelete(t *testing.T) {
	provider := &fakeProvider{}
	w := testWorker(provider, &fakeConfigs{cfg: syncConfig()}, &fakeAppointments{})

	job := upsertJob()
	job.Action = ActionDelete
	job.ExternalEventID = "ev-9"
	if _, err := w.runJob(context.Background(), job); err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if len(provider.deleted) != 1 || provider.deleted[0] != "ev-9" {
		t.Errorf("deleted = %v, want [ev-9]", provider.deleted)
	}
}

func TestRunJobSilentSkips(t *testing.T) {
	disabled := syncConfig()
	disabled.SyncEnabled = false

	noCalendar := syncConfig()
	noCalendar.DefaultCalendarID = ""

	cases := []struct {
		name     string
		configs  ConfigSource
		appts    AppointmentSource
		provider *fakeProvider
	}{
		{"config missing", &fakeConfigs{err: apperr.NotFoundf("config")}, &fakeAppointments{}, &fakeProvider{}},
		{"sync disabled", &fakeConfigs{cfg: disabled}, &fakeAppointments{}, &fakeProvider{}},
		{"no calendar id", &fakeConfigs{cfg: noCalendar}, &fakeAppointments{}, &fakeProvider{}},
		{"appointment gone", &fakeConfigs{cfg: syncConfig()}, &fakeAppointments{exists: false}, &fakeProvider{}},
		{"disconnected", &fakeConfigs{cfg: syncConfig()},
			&fakeAppointments{exists: true, snap: Snapshot{ServiceID: "cut", StaffID: "alice", CustomerName: "Dana"}},
			&fakeProvider{createErr: calendar.ErrNotConnected}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := testWorker(tc.provider, tc.configs, tc.appts)
			skip, err := w.runJob(context.Background(), upsertJob())
			if err != nil {
				t.Fatalf("skip outcome returned error: %v", err)
			}
			if skip == "" {
				t.Fatal("expected a skip reason")
			}
			if len(tc.provider.created)+len(tc.provider.updated)+len(tc.provider.deleted) != 0 {
				t.Error("skip outcome should not touch the provider")
			}
		})
	}
}

func TestRunJobDeleteIgnoresSyncDisabled(t *testing.T) {
	// A delete job still removes the mirror even after the tenant turns sync
	// off, otherwise the external calendar keeps a ghost event.
	disabled := syncConfig()
	disabled.SyncEnabled = false
	provider := &fakeProvider{}
	w := testWorker(provider, &fakeConfigs{cfg: disabled}, &fakeAppointments{})

	job := upsertJob()
	job.Action = ActionDelete
	job.ExternalEventID = "ev-9"
	if _, err := w.runJob(context.Background(), job); err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if len(provider.deleted) != 1 {
		t.Errorf("deleted = %v, want one delete", provider.deleted)
	}
}

func TestRunJobProviderErrorRetries(t *testing.T) {
	provider := &fakeProvider{createErr: errors.New("rate limited")}
	appts := &fakeAppointments{
		exists: true,
		snap:   Snapshot{ServiceID: "cut", StaffID: "alice", CustomerName: "Dana"},
	}
	w := testWorker(provider, &fakeConfigs{cfg: syncConfig()}, appts)

	_, err := w.runJob(context.Background(), upsertJob())
	if err == nil {
		t.Fatal("transient provider failure should surface for retry")
	}
}

func TestRunJobUsesStaffCalendarOverride(t *testing.T) {
	cfg := syncConfig()
	cfg.Staff[0].CalendarID = "alice-cal"
	provider := &recordingProvider{}
	appts := &fakeAppointments{
		exists: true,
		snap:   Snapshot{ServiceID: "cut", StaffID: "alice", CustomerName: "Dana", ExternalEventID: "ev-1"},
	}
	w := testWorker(provider, &fakeConfigs{cfg: cfg}, appts)

	if _, err := w.runJob(context.Background(), upsertJob()); err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if provider.lastCalendarID != "alice-cal" {
		t.Errorf("calendar id = %q, want alice-cal", provider.lastCalendarID)
	}
}

type recordingProvider struct {
	lastCalendarID string
}

func (p *recordingProvider) CreateEvent(_ context.Context, _, calendarID string, _ calendar.Event) (string, error) {
	p.lastCalendarID = calendarID
	return "ev-new", nil
}

func (p *recordingProvider) UpdateEvent(_ context.Context, _, calendarID, _ string, _ calendar.Event) error {
	p.lastCalendarID = calendarID
	return nil
}

func (p *recordingProvider) DeleteEvent(_ context.Context, _, calendarID, _ string) error {
	p.lastCalendarID = calendarID
	return nil
}

func TestBuildEvent(t *testing.T) {
	cfg := syncConfig()
	snap := Snapshot{
		ServiceID:    "cut",
		CustomerName: "Dana",
		Notes:        "first visit",
		Start:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}

	ev := BuildEvent(cfg, snap)
	if ev.Summary != "Haircut: Dana" {
		t.Errorf("summary = %q", ev.Summary)
	}
	if ev.Description != "first visit" {
		t.Errorf("description = %q", ev.Description)
	}

	snap.ServiceID = "deleted-service"
	ev = BuildEvent(cfg, snap)
	if ev.Summary != "Dana" {
		t.Errorf("fallback summary = %q", ev.Summary)
	}
}
