// Package calendar is the boundary to the external calendar provider. The
// engine's Appointment and the provider's event are separate models; Event is
// the only shape that crosses the boundary.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected means the tenant has no valid credential; sync is skipped
// silently, never surfaced to booking callers.
var ErrNotConnected = errors.New("calendar not connected")

// Event is the mirrored representation of an appointment. Sync only carries
// these four fields; status never crosses the boundary.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Provider is the external calendar API consumed by the sync worker.
type Provider interface {
	CreateEvent(ctx context.Context, tenantID, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, tenantID, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, tenantID, calendarID, eventID string) error
}
