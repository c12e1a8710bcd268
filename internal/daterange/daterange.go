// Package daterange maps relative periods ("today", "thisWeek") onto
// concrete bounds in a viewer's timezone.
//
// Two kinds of bounds come out of a resolution: UTC instants and local
// date strings. Cached events carry their date in the source site's
// local form, so the date strings are the authoritative range filter;
// mixing UTC-instant filtering with a viewer-local "today" produces
// off-by-one-day results near midnight.
package daterange

import (
	"time"
)

// Period is a relative time period selectable by the API.
type Period string

const (
	PeriodYesterday Period = "yesterday"
	PeriodToday     Period = "today"
	PeriodTomorrow  Period = "tomorrow"
	PeriodThisWeek  Period = "thisWeek"
	PeriodNextWeek  Period = "nextWeek"
	PeriodThisMonth Period = "thisMonth"
)

// Range holds the resolved bounds of a period.
type Range struct {
	// StartUTC / EndUTC are inclusive UTC instants covering the period.
	StartUTC time.Time
	EndUTC   time.Time

	// StartDate / EndDate are the local YYYY-MM-DD boundary days.
	StartDate string
	EndDate   string
}

const dateLayout = "2006-01-02"

// Resolve computes the bounds of period in the given IANA timezone as of
// now. Unknown periods resolve as "today"; an unknown timezone falls
// back to UTC. Side-effect free.
func Resolve(period Period, timezone string, now time.Time) Range {
	loc, err := time.LoadLocation(timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var startLocal, endLocal time.Time

	switch period {
	case PeriodYesterday:
		startLocal = startOfDay(local.AddDate(0, 0, -1))
		endLocal = startLocal
	case PeriodTomorrow:
		startLocal = startOfDay(local.AddDate(0, 0, 1))
		endLocal = startLocal
	case PeriodThisWeek:
		startLocal = startOfWeek(local)
		endLocal = startLocal.AddDate(0, 0, 6)
	case PeriodNextWeek:
		startLocal = startOfWeek(local).AddDate(0, 0, 7)
		endLocal = startLocal.AddDate(0, 0, 6)
	case PeriodThisMonth:
		startLocal = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		endLocal = startLocal.AddDate(0, 1, -1)
	case PeriodToday:
		fallthrough
	default:
		startLocal = startOfDay(local)
		endLocal = startLocal
	}

	// End instant is the last nanosecond of the final local day.
	endExclusive := startOfDay(endLocal).AddDate(0, 0, 1)

	return Range{
		StartUTC:  startLocal.UTC(),
		EndUTC:    endExclusive.Add(-time.Nanosecond).UTC(),
		StartDate: startLocal.Format(dateLayout),
		EndDate:   endLocal.Format(dateLayout),
	}
}

// startOfDay truncates t to local midnight, keeping its location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of t's week at local midnight.
func startOfWeek(t time.Time) time.Time {
	// Weekday is Sunday=0; shift so Monday=0.
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t.AddDate(0, 0, -offset))
}
