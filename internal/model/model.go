package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Impact is the market-impact level of an economic event as derived from
// the source site's sentiment icons.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// ImpactFromIconCount maps the number of filled sentiment icons in a
// calendar row to an impact level (3 icons = high, 2 = medium, else low).
func ImpactFromIconCount(n int) Impact {
	switch n {
	case 3:
		return ImpactHigh
	case 2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// ValidImpact reports whether s is one of the known impact levels.
func ValidImpact(s string) bool {
	switch Impact(s) {
	case ImpactHigh, ImpactMedium, ImpactLow:
		return true
	}
	return false
}

// Window is a relative time period used as the unit of scraping. The
// values mirror the source site's timeframe tabs.
type Window string

const (
	WindowLastWeek  Window = "lastWeek"
	WindowYesterday Window = "yesterday"
	WindowToday     Window = "today"
	WindowTomorrow  Window = "tomorrow"
	WindowThisWeek  Window = "thisWeek"
	WindowNextWeek  Window = "nextWeek"
)

// AllWindows returns every scrapeable window in sweep order. lastWeek
// comes first so an initial sweep also backfills recent history.
func AllWindows() []Window {
	return []Window{
		WindowLastWeek,
		WindowYesterday,
		WindowToday,
		WindowTomorrow,
		WindowThisWeek,
		WindowNextWeek,
	}
}

// ValidWindow reports whether s names a known scrape window.
func ValidWindow(s string) bool {
	for _, w := range AllWindows() {
		if Window(s) == w {
			return true
		}
	}
	return false
}

// CanonicalEvent is the unit of the events cache: one macro-economic data
// release, normalized from a scraped calendar row.
//
// Date and Time are kept exactly as displayed by the source site (its own
// fixed timezone); EventTimestamp is the same wall clock converted to
// UTC. Range queries filter on Date strings to stay correct across
// midnight in the viewer's timezone.
type CanonicalEvent struct {
	// ID is a content-derived identifier; see EventID.
	ID string `json:"id"`

	// EventTimestamp is the absolute UTC moment of the release.
	EventTimestamp time.Time `json:"eventTimestamp"`

	// Date is YYYY-MM-DD and Time is HH:MM:SS, both in the source site's
	// display timezone.
	Date string `json:"date"`
	Time string `json:"time"`

	// Country is an ISO-3 style code (EUR is used for the Eurozone).
	Country     string `json:"country"`
	CountryName string `json:"countryName"`

	// Event is the translated display name; EventOriginal is the name as
	// scraped, which is what categorization keywords are defined against.
	Event         string `json:"event"`
	EventOriginal string `json:"eventOriginal"`

	Impact Impact `json:"impact"`

	// Raw provider-formatted values. Arbitrary suffixes (%, K, B) are
	// kept verbatim; nil means the source showed no value.
	Actual   *string `json:"actual"`
	Forecast *string `json:"forecast"`
	Previous *string `json:"previous"`

	// Category is the first matching taxonomy category, if any.
	Category *string `json:"category"`

	// FetchedAt is the last time this record was written to the cache.
	FetchedAt time.Time `json:"fetchedAt"`
}

// EventID derives the deterministic identifier for an event from its
// defining fields. The source site exposes no reliable internal id, so
// identical (date, time, country, name) must always hash to the same
// value to keep upserts idempotent.
func EventID(date, timeStr, country, eventName string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%s", date, timeStr, country, eventName)))
	return hex.EncodeToString(sum[:])[:32]
}
