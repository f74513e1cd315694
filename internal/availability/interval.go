// Package availability computes bookable slots. The overlap predicate here is
// the single source of truth shared by slot generation and booking writes, so
// "available" and "bookable" cannot disagree outside the race window closed by
// the persistence layer.
package availability

import "time"

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Adjacency is not overlap: an interval starting exactly at another's end is
// free.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Conflicts reports whether the candidate interval overlaps any busy interval.
func Conflicts(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
