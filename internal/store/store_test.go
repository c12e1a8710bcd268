package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"macrocal/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

func strPtr(s string) *string { return &s }

func sampleEvent(date, timeStr, country, name string) model.CanonicalEvent {
	ts, _ := time.Parse("2006-01-02 15:04:05", date+" "+timeStr)
	return model.CanonicalEvent{
		ID:             model.EventID(date, timeStr, country, name),
		EventTimestamp: ts.UTC(),
		Date:           date,
		Time:           timeStr,
		Country:        country,
		CountryName:    country,
		Event:          name,
		EventOriginal:  name,
		Impact:         model.ImpactMedium,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	ev := sampleEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls")
	for i := 0; i < 3; i++ {
		if err := st.UpsertEvents(ctx, []model.CanonicalEvent{ev}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	got, err := st.QueryEvents(ctx, Query{FromDate: "2025-06-02", ToDate: "2025-06-02"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event after repeated upserts, got %d", len(got))
	}
}

func TestUpsertUpdatesMutableColumns(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	ev := sampleEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls")
	ev.Forecast = strPtr("180K")
	if err := st.UpsertEvents(ctx, []model.CanonicalEvent{ev}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	ev.Actual = strPtr("210K")
	if err := st.UpsertEvents(ctx, []model.CanonicalEvent{ev}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := st.QueryEvents(ctx, Query{FromDate: "2025-06-02", ToDate: "2025-06-02"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Actual == nil || *got[0].Actual != "210K" {
		t.Errorf("expected actual 210K after re-upsert, got %v", got[0].Actual)
	}
	if got[0].Forecast == nil || *got[0].Forecast != "180K" {
		t.Errorf("expected forecast preserved, got %v", got[0].Forecast)
	}
}

func TestUpsertDeduplicatesWithinBatch(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first := sampleEvent("2025-06-02", "14:30:00", "USA", "CPI (YoY)")
	second := first
	second.Actual = strPtr("3.1%")

	// Same id twice in one batch must not fail and the last value wins.
	if err := st.UpsertEvents(ctx, []model.CanonicalEvent{first, second}); err != nil {
		t.Fatalf("upsert with duplicate ids: %v", err)
	}

	got, err := st.QueryEvents(ctx, Query{FromDate: "2025-06-02", ToDate: "2025-06-02"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Actual == nil || *got[0].Actual != "3.1%" {
		t.Errorf("expected last duplicate to win, got %v", got[0].Actual)
	}
}

func TestUpsertLargeBatch(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	events := make([]model.CanonicalEvent, 0, 250)
	for i := 0; i < 250; i++ {
		name := fmt.Sprintf("Indicator %d", i)
		events = append(events, sampleEvent("2025-06-02", "14:30:00", "USA", name))
	}

	if err := st.UpsertEvents(ctx, events); err != nil {
		t.Fatalf("upsert 250 events: %v", err)
	}

	got, err := st.QueryEvents(ctx, Query{FromDate: "2025-06-02", ToDate: "2025-06-02"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("expected 250 events across batches, got %d", len(got))
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	events := []model.CanonicalEvent{
		sampleEvent("2025-06-02", "08:00:00", "DEU", "Factory Orders"),
		sampleEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls"),
		sampleEvent("2025-06-03", "09:00:00", "ESP", "Unemployment Change"),
		sampleEvent("2025-06-10", "14:30:00", "USA", "CPI (MoM)"),
	}
	events[1].Impact = model.ImpactHigh
	if err := st.UpsertEvents(ctx, events); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.QueryEvents(ctx, Query{FromDate: "2025-06-02", ToDate: "2025-06-03"})
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events in range, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].EventTimestamp.Before(got[i-1].EventTimestamp) {
			t.Errorf("events out of timestamp order at %d", i)
		}
	}

	got, err = st.QueryEvents(ctx, Query{
		FromDate: "2025-06-02", ToDate: "2025-06-10",
		Countries: []string{"USA"},
		Impacts:   []string{"high"},
	})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if len(got) != 1 || got[0].Event != "Nonfarm Payrolls" {
		t.Fatalf("expected only the high-impact USA event, got %+v", got)
	}
}

func TestLatestDateDistinguishesEmptyCache(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	latest, err := st.LatestDate(ctx)
	if err != nil {
		t.Fatalf("latest date on empty cache: %v", err)
	}
	if latest != "" {
		t.Fatalf("expected empty latest date, got %q", latest)
	}

	events := []model.CanonicalEvent{
		sampleEvent("2025-06-02", "08:00:00", "DEU", "Factory Orders"),
		sampleEvent("2025-06-10", "14:30:00", "USA", "CPI (MoM)"),
	}
	if err := st.UpsertEvents(ctx, events); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	latest, err = st.LatestDate(ctx)
	if err != nil {
		t.Fatalf("latest date: %v", err)
	}
	if latest != "2025-06-10" {
		t.Errorf("expected 2025-06-10, got %q", latest)
	}

	// A query for a quiet period must return empty without error, so
	// callers can tell "no events" from "never populated" via LatestDate.
	got, err := st.QueryEvents(ctx, Query{FromDate: "2030-01-01", ToDate: "2030-01-07"})
	if err != nil {
		t.Fatalf("future query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events for future range, got %d", len(got))
	}
}

func TestLatestFetchAfterUpsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	fetch, err := st.LatestFetch(ctx)
	if err != nil {
		t.Fatalf("latest fetch on empty cache: %v", err)
	}
	if !fetch.IsZero() {
		t.Fatalf("expected zero time on empty cache, got %v", fetch)
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := st.UpsertEvents(ctx, []model.CanonicalEvent{
		sampleEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls"),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fetch, err = st.LatestFetch(ctx)
	if err != nil {
		t.Fatalf("latest fetch on populated cache: %v", err)
	}
	if fetch.IsZero() || fetch.Before(before) {
		t.Errorf("expected fetch time around now, got %v", fetch)
	}
}

func TestPruneOlderThan(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -200).Format("2006-01-02")
	recent := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")

	events := []model.CanonicalEvent{
		sampleEvent(old, "08:00:00", "DEU", "Factory Orders"),
		sampleEvent(recent, "14:30:00", "USA", "CPI (MoM)"),
	}
	if err := st.UpsertEvents(ctx, events); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	removed, err := st.PruneOlderThan(ctx, 180)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}

	got, err := st.QueryEvents(ctx, Query{})
	if err != nil {
		t.Fatalf("query after prune: %v", err)
	}
	if len(got) != 1 || got[0].Date != recent {
		t.Fatalf("expected only the recent event to survive, got %+v", got)
	}
}

func TestClearEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.UpsertEvents(ctx, []model.CanonicalEvent{
		sampleEvent("2025-06-02", "08:00:00", "DEU", "Factory Orders"),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.ClearEvents(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	latest, err := st.LatestDate(ctx)
	if err != nil {
		t.Fatalf("latest date: %v", err)
	}
	if latest != "" {
		t.Errorf("expected empty cache after clear, got latest %q", latest)
	}
}
