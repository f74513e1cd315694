// Package schedule holds the per-tenant scheduling configuration: services,
// staff, opening hours, and calendar-sync settings. A Config is loaded once
// per request and treated as immutable within it.
package schedule

import (
	"fmt"
	"time"

	"github.com/bookline/bookline/internal/apperr"
)

type Config struct {
	TenantID               string            `json:"tenant_id"`
	Timezone               string            `json:"timezone"`
	SlotGranularityMinutes int               `json:"slot_granularity_minutes"`
	Services               []Service         `json:"services"`
	Staff                  []Staff           `json:"staff"`
	OpeningHours           map[string][]Span `json:"opening_hours"`
	SyncEnabled            bool              `json:"sync_enabled"`
	DefaultCalendarID      string            `json:"default_calendar_id,omitempty"`
}

type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
}

type Staff struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	WorkingDays []string `json:"working_days"`
	CalendarID  string   `json:"calendar_id,omitempty"`
}

// Span is an opening-hour range in local time of day, half-open.
type Span struct {
	Start string `json:"start"` // "09:00"
	End   string `json:"end"`   // "17:30"
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate rejects malformed documents at load time so no call site ever has
// to default around a bad shape.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.SlotGranularityMinutes <= 0 {
		return fmt.Errorf("slot_granularity_minutes must be positive")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}
	seenServices := map[string]bool{}
	for _, s := range c.Services {
		if s.ID == "" {
			return fmt.Errorf("service id is required")
		}
		if seenServices[s.ID] {
			return fmt.Errorf("duplicate service id %q", s.ID)
		}
		seenServices[s.ID] = true
		if s.DurationMinutes <= 0 {
			return fmt.Errorf("service %q: duration_minutes must be positive", s.ID)
		}
		if s.BufferMinutes < 0 {
			return fmt.Errorf("service %q: buffer_minutes must not be negative", s.ID)
		}
	}
	seenStaff := map[string]bool{}
	for _, st := range c.Staff {
		if st.ID == "" {
			return fmt.Errorf("staff id is required")
		}
		if seenStaff[st.ID] {
			return fmt.Errorf("duplicate staff id %q", st.ID)
		}
		seenStaff[st.ID] = true
		for _, d := range st.WorkingDays {
			if _, ok := weekdayNames[d]; !ok {
				return fmt.Errorf("staff %q: unknown weekday %q", st.ID, d)
			}
		}
	}
	for day, spans := range c.OpeningHours {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("opening_hours: unknown weekday %q", day)
		}
		for _, sp := range spans {
			startMin, err := parseClock(sp.Start)
			if err != nil {
				return fmt.Errorf("opening_hours %s: %w", day, err)
			}
			endMin, err := parseClock(sp.End)
			if err != nil {
				return fmt.Errorf("opening_hours %s: %w", day, err)
			}
			if endMin <= startMin {
				return fmt.Errorf("opening_hours %s: end %q must be after start %q", day, sp.End, sp.Start)
			}
		}
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		// Validate guarantees loadability; a stored config predating a tzdata
		// change still degrades to UTC rather than panicking.
		return time.UTC
	}
	return loc
}

func (c *Config) ServiceByID(id string) (Service, error) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, nil
		}
	}
	return Service{}, apperr.NotFoundf("service %q", id)
}

func (c *Config) StaffByID(id string) (Staff, error) {
	for _, st := range c.Staff {
		if st.ID == id {
			return st, nil
		}
	}
	return Staff{}, apperr.NotFoundf("staff %q", id)
}

// StaffWorking returns the staff members working on the given weekday.
func (c *Config) StaffWorking(day time.Weekday) []Staff {
	var out []Staff
	for _, st := range c.Staff {
		if st.WorksOn(day) {
			out = append(out, st)
		}
	}
	return out
}

func (st Staff) WorksOn(day time.Weekday) bool {
	for _, d := range st.WorkingDays {
		if weekdayNames[d] == day {
			return true
		}
	}
	return false
}

// SpansFor returns the opening-hour ranges for a weekday; an absent entry
// means closed.
func (c *Config) SpansFor(day time.Weekday) []Span {
	for name, wd := range weekdayNames {
		if wd == day {
			return c.OpeningHours[name]
		}
	}
	return nil
}

// Resolve converts a span on a local calendar date into UTC instants. DST
// transitions fall out of time.Date in the tenant location.
func (sp Span) Resolve(year int, month time.Month, day int, loc *time.Location) (time.Time, time.Time) {
	startMin, _ := parseClock(sp.Start)
	endMin, _ := parseClock(sp.End)
	start := time.Date(year, month, day, startMin/60, startMin%60, 0, 0, loc)
	end := time.Date(year, month, day, endMin/60, endMin%60, 0, 0, loc)
	return start.UTC(), end.UTC()
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
