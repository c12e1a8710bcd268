package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"macrocal/internal/config"
	"macrocal/internal/model"
	"macrocal/internal/refresh"
	"macrocal/internal/store"
)

// stubScraper feeds the coordinator canned events during handler tests.
type stubScraper struct {
	events []model.CanonicalEvent
	err    error
}

func (s *stubScraper) Scrape(context.Context, model.Window) ([]model.CanonicalEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func testEvent(date, timeStr, country, name string, impact model.Impact) model.CanonicalEvent {
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
		Impact:         impact,
	}
}

func newTestServer(t *testing.T, scraper refresh.Scraper) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	cfg := config.DefaultConfig()
	coord := refresh.New(scraper, st, refresh.Config{WindowDelay: time.Millisecond})
	return NewServer(cfg, st, coord), st
}

func getJSON(t *testing.T, h http.Handler, url string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return rec
}

func TestEventsRangeAndFilters(t *testing.T) {
	srv, st := newTestServer(t, &stubScraper{})
	events := []model.CanonicalEvent{
		testEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh),
		testEvent("2025-06-02", "08:00:00", "DEU", "Factory Orders", model.ImpactMedium),
		testEvent("2025-06-09", "14:30:00", "USA", "CPI (MoM)", model.ImpactHigh),
	}
	if err := st.UpsertEvents(context.Background(), events); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Handler()

	var resp eventsResponse
	getJSON(t, h, "/api/events?from=2025-06-02&to=2025-06-02", &resp)
	if resp.Count != 2 {
		t.Fatalf("expected 2 events in range, got %d", resp.Count)
	}

	getJSON(t, h, "/api/events?from=2025-06-02&to=2025-06-09&countries=usa&impacts=high", &resp)
	if resp.Count != 2 {
		t.Fatalf("expected 2 USA high events, got %d", resp.Count)
	}
	for _, ev := range resp.Events {
		if ev.Country != "USA" {
			t.Errorf("unexpected country %s", ev.Country)
		}
	}

	getJSON(t, h, "/api/events?from=2025-06-02&to=2025-06-09&categories=inflation", &resp)
	if resp.Count != 1 || resp.Events[0].Event != "CPI (MoM)" {
		t.Fatalf("category filter: got %+v", resp.Events)
	}

	getJSON(t, h, "/api/events?from=2025-06-02&to=2025-06-09&search=payrolls", &resp)
	if resp.Count != 1 || resp.Events[0].Event != "Nonfarm Payrolls" {
		t.Fatalf("search filter: got %+v", resp.Events)
	}
}

func TestEventsRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t, &stubScraper{})
	h := srv.Handler()

	cases := []string{
		"/api/events?from=2025-06-02",                       // from without to
		"/api/events?from=junk&to=2025-06-02",               // malformed date
		"/api/events?from=2025-06-09&to=2025-06-02",         // inverted range
		"/api/events?from=2025-06-02&to=2025-06-02&impacts=severe",
		"/api/events?from=2025-06-02&to=2025-06-02&categories=astrology",
	}
	for _, url := range cases {
		if rec := getJSON(t, h, url, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestEventsBootstrapsColdCache(t *testing.T) {
	// Bootstrap runs the full sweep including retention, so the stub event
	// must carry a current date or the prune removes it again.
	day := time.Now().UTC().Format("2006-01-02")
	seed := testEvent(day, "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh)
	srv, _ := newTestServer(t, &stubScraper{events: []model.CanonicalEvent{seed}})
	h := srv.Handler()

	var resp eventsResponse
	rec := getJSON(t, h, "/api/events?from="+day+"&to="+day, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after bootstrap, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Count != 1 {
		t.Fatalf("expected bootstrapped event, got %d", resp.Count)
	}
}

func TestEventsColdCacheBootstrapFailure(t *testing.T) {
	srv, _ := newTestServer(t, &stubScraper{err: errors.New("site down")})
	h := srv.Handler()

	rec := getJSON(t, h, "/api/events?from=2025-06-02&to=2025-06-02", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when bootstrap fails, got %d", rec.Code)
	}
}

func TestEventsEmptyPopulatedCacheIsNotAnError(t *testing.T) {
	// The scraper must not run for a quiet period when the cache has data.
	srv, st := newTestServer(t, &stubScraper{err: errors.New("must not be called")})
	seed := testEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh)
	if err := st.UpsertEvents(context.Background(), []model.CanonicalEvent{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Handler()

	var resp eventsResponse
	rec := getJSON(t, h, "/api/events?from=2030-01-01&to=2030-01-07", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for quiet period, got %d", rec.Code)
	}
	if resp.Count != 0 {
		t.Fatalf("expected empty result, got %d", resp.Count)
	}
}

func TestEventsCSVExport(t *testing.T) {
	srv, st := newTestServer(t, &stubScraper{})
	seed := testEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh)
	if err := st.UpsertEvents(context.Background(), []model.CanonicalEvent{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Handler()

	rec := getJSON(t, h, "/api/events.csv?from=2025-06-02&to=2025-06-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type: %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "Nonfarm Payrolls") {
		t.Errorf("row missing event name: %q", lines[1])
	}
}

func TestEventsICSExport(t *testing.T) {
	srv, st := newTestServer(t, &stubScraper{})
	seed := testEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh)
	if err := st.UpsertEvents(context.Background(), []model.CanonicalEvent{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Handler()

	rec := getJSON(t, h, "/api/events.ics?from=2025-06-02&to=2025-06-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "BEGIN:VEVENT") {
		t.Errorf("not a calendar: %q", body[:min(len(body), 120)])
	}
	if !strings.Contains(body, "Nonfarm Payrolls") {
		t.Errorf("event missing from feed")
	}
}

func TestWatchlistSessionScoping(t *testing.T) {
	srv, _ := newTestServer(t, &stubScraper{})
	h := srv.Handler()

	add := func(session, code string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/watchlist/countries",
			strings.NewReader(`{"countryCode":"`+code+`"}`))
		if session != "" {
			req.Header.Set(sessionHeader, session)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := add("alice", "USA"); rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d", rec.Code)
	}
	if rec := add("", "DEU"); rec.Code != http.StatusCreated {
		t.Fatalf("add default session: expected 201, got %d", rec.Code)
	}

	var items []store.WatchlistCountry
	req := httptest.NewRequest(http.MethodGet, "/api/watchlist/countries", nil)
	req.Header.Set(sessionHeader, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].CountryCode != "USA" {
		t.Fatalf("expected alice's list isolated, got %+v", items)
	}

	// Deleting from the wrong session is a 404, not a cross-session delete.
	req = httptest.NewRequest(http.MethodDelete, "/api/watchlist/countries/USA", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other session's entry, got %d", rec.Code)
	}
}

func TestCacheStatusEndpoint(t *testing.T) {
	srv, st := newTestServer(t, &stubScraper{})
	seed := testEvent("2025-06-02", "14:30:00", "USA", "Nonfarm Payrolls", model.ImpactHigh)
	if err := st.UpsertEvents(context.Background(), []model.CanonicalEvent{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := srv.Handler()

	var status refresh.Status
	rec := getJSON(t, h, "/api/cache/status", &status)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status.LatestDate != "2025-06-02" {
		t.Errorf("latest date: got %q", status.LatestDate)
	}
	if status.Refreshing {
		t.Error("expected no refresh in flight")
	}
}
