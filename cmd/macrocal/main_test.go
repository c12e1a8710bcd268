package main

import (
	"testing"
	"time"
)

func TestParseBackfillSpan(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	from, to, err := parseBackfillSpan("2025-01-01,2025-03-31", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if from.Format("2006-01-02") != "2025-01-01" || to.Format("2006-01-02") != "2025-03-31" {
		t.Errorf("bounds: got %v .. %v", from, to)
	}
	if from.Location() != loc {
		t.Errorf("expected dates anchored in the source timezone, got %v", from.Location())
	}

	if _, _, err := parseBackfillSpan(" 2025-01-01 , 2025-01-02 ", loc); err != nil {
		t.Errorf("expected surrounding whitespace to be tolerated: %v", err)
	}

	for _, span := range []string{
		"2025-01-01",            // missing the end date
		"2025-01-01,junk",       // malformed end date
		"2025-03-31,2025-01-01", // inverted
	} {
		if _, _, err := parseBackfillSpan(span, loc); err == nil {
			t.Errorf("%q: expected error", span)
		}
	}
}
