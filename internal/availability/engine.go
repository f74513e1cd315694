package availability

import (
	"context"
	"sort"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/schedule"
)

// Slot is a candidate, uncommitted booking interval. Times are UTC.
type Slot struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	StaffID string    `json:"staff_id"`
}

// ConfigSource resolves the tenant scheduling config.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*schedule.Config, error)
}

// BusyReader returns the active booked intervals per staff member within
// [from, to), in one range read.
type BusyReader interface {
	ActiveIntervals(ctx context.Context, tenantID string, staffIDs []string, from, to time.Time) (map[string][]Interval, error)
}

// Engine computes free slots for a calendar date. Results are recomputed on
// every call; staleness is bounded only by read latency.
type Engine struct {
	configs ConfigSource
	busy    BusyReader
}

func NewEngine(configs ConfigSource, busy BusyReader) *Engine {
	return &Engine{configs: configs, busy: busy}
}

// SlotsForDay returns every bookable slot for a service on the given
// calendar date ("2006-01-02"), interpreted in the tenant timezone. staffID
// optionally restricts the result to one staff member. Closed days and days
// with nobody working yield an empty list, not an error.
func (e *Engine) SlotsForDay(ctx context.Context, tenantID, date, serviceID, staffID string) ([]Slot, error) {
	cfg, err := e.configs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	svc, err := cfg.ServiceByID(serviceID)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	localMidnight, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, apperr.Invalidf("invalid date %q", date)
	}
	year, month, day := localMidnight.Date()
	weekday := localMidnight.Weekday()

	staff := cfg.StaffWorking(weekday)
	if staffID != "" {
		staff = filterStaff(staff, staffID)
	}
	spans := cfg.SpansFor(weekday)
	if len(staff) == 0 || len(spans) == 0 {
		return []Slot{}, nil
	}

	// One range read over the whole local day. Day bounds are local midnight
	// to next local midnight in UTC, so DST days keep their real length.
	dayStart := localMidnight.UTC()
	dayEnd := localMidnight.AddDate(0, 0, 1).UTC()
	staffIDs := make([]string, 0, len(staff))
	for _, st := range staff {
		staffIDs = append(staffIDs, st.ID)
	}
	busyByStaff, err := e.busy.ActiveIntervals(ctx, tenantID, staffIDs, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	slotLen := time.Duration(svc.DurationMinutes+svc.BufferMinutes) * time.Minute
	step := time.Duration(cfg.SlotGranularityMinutes) * time.Minute

	slots := []Slot{}
	for _, st := range staff {
		busy := busyByStaff[st.ID]
		for _, span := range spans {
			spanStart, spanEnd := span.Resolve(year, month, day, loc)
			// A trailing slot that would run past the span end (buffer
			// included) is excluded.
			for t := spanStart; !t.Add(slotLen).After(spanEnd); t = t.Add(step) {
				end := t.Add(slotLen)
				if Conflicts(t, end, busy) {
					continue
				}
				slots = append(slots, Slot{Start: t, End: end, StaffID: st.ID})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].StaffID < slots[j].StaffID
	})
	return slots, nil
}

func filterStaff(staff []schedule.Staff, id string) []schedule.Staff {
	for _, st := range staff {
		if st.ID == id {
			return []schedule.Staff{st}
		}
	}
	return nil
}
