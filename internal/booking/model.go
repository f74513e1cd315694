// Package booking owns the Appointment lifecycle: validation, the
// conflict-checked write, updates, and deletion with best-effort calendar
// cleanup.
package booking

import (
	"strings"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the statuses that occupy calendar time.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusDone}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusDone
}

// CanTransition encodes the forward-only state machine:
// pending -> confirmed -> done, with cancellation allowed from pending and
// confirmed. done and cancelled are terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusDone || to == StatusCancelled
	default:
		return false
	}
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusDone, StatusCancelled:
		return Status(s), nil
	}
	return "", apperr.Invalidf("unknown status %q", s)
}

type Source string

const (
	SourceManual Source = "manual"
	SourceOnline Source = "online"
	SourceImport Source = "import"
)

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Appointment struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Customer        Customer  `json:"customer"`
	ServiceID       string    `json:"service_id"`
	StaffID         string    `json:"staff_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Status          Status    `json:"status"`
	Source          Source    `json:"source"`
	Notes           string    `json:"notes,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CreateRequest struct {
	CustomerName  string
	CustomerPhone string
	ServiceID     string
	StaffID       string
	Start         time.Time
	Notes         string
	Source        Source
}

func (r *CreateRequest) Validate() error {
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerPhone = strings.TrimSpace(r.CustomerPhone)
	if r.CustomerName == "" {
		return apperr.Invalidf("customer_name is required")
	}
	if r.ServiceID == "" {
		return apperr.Invalidf("service_id is required")
	}
	if r.StaffID == "" {
		return apperr.Invalidf("staff_id is required")
	}
	if r.Start.IsZero() {
		return apperr.Invalidf("start is required")
	}
	if r.Source == "" {
		r.Source = SourceOnline
	}
	return nil
}

// Patch is a partial appointment update. Nil fields are untouched.
type Patch struct {
	Start     *time.Time
	StaffID   *string
	ServiceID *string
	Status    *string
	Notes     *string
}

// Reschedules reports whether applying the patch moves the appointment on the
// calendar, which requires recomputing end and re-running the conflict check.
// A notes-only or status-only patch never does.
func (p Patch) Reschedules() bool {
	return p.Start != nil || p.StaffID != nil || p.ServiceID != nil
}

func (p Patch) Empty() bool {
	return p.Start == nil && p.StaffID == nil && p.ServiceID == nil && p.Status == nil && p.Notes == nil
}

// applyPatch merges a patch onto an appointment against the current service
// definitions. Status changes go through the transition gate. A reschedule
// recomputes End from the service definition in effect now; a notes- or
// status-only patch leaves the stored interval untouched.
func applyPatch(cfg *schedule.Config, appt Appointment, patch Patch) (Appointment, error) {
	if patch.Status != nil {
		to, err := ParseStatus(*patch.Status)
		if err != nil {
			return Appointment{}, err
		}
		if !CanTransition(appt.Status, to) {
			return Appointment{}, apperr.Invalidf("cannot transition %s to %s", appt.Status, to)
		}
		appt.Status = to
	}
	if patch.Notes != nil {
		appt.Notes = *patch.Notes
	}
	if !patch.Reschedules() {
		return appt, nil
	}

	if patch.Start != nil {
		appt.Start = patch.Start.UTC()
	}
	if patch.StaffID != nil {
		if _, err := cfg.StaffByID(*patch.StaffID); err != nil {
			return Appointment{}, err
		}
		appt.StaffID = *patch.StaffID
	}
	if patch.ServiceID != nil {
		appt.ServiceID = *patch.ServiceID
	}
	svc, err := cfg.ServiceByID(appt.ServiceID)
	if err != nil {
		return Appointment{}, err
	}
	appt.End = appt.Start.Add(time.Duration(svc.DurationMinutes+svc.BufferMinutes) * time.Minute)
	return appt, nil
}
