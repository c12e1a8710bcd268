package web

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"macrocal/internal/daterange"
	appLog "macrocal/internal/log"
	"macrocal/internal/model"
	"macrocal/internal/refresh"
	"macrocal/internal/store"
	"macrocal/internal/taxonomy"
)

var dateParamRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// eventsQuery is the parsed filter set of one /api/events request.
type eventsQuery struct {
	rng        daterange.Range
	period     string
	timezone   string
	countries  []string
	impacts    []string
	categories []string
	search     string
}

// parseEventsQuery validates query parameters.
//
// Supported parameters:
//   - dateRange:  yesterday|today|tomorrow|thisWeek|nextWeek|thisMonth
//     ("period" is accepted as an alias)
//   - from, to:   explicit YYYY-MM-DD bounds; both required together and
//     they override dateRange
//   - timezone:   IANA viewer timezone (default from config)
//   - countries:  comma-separated country codes
//   - impacts:    comma-separated impact levels
//   - categories: comma-separated taxonomy category names (match any)
//   - search:     free-text match on event name and country
func (s *Server) parseEventsQuery(r *http.Request) (eventsQuery, error) {
	q := r.URL.Query()

	eq := eventsQuery{
		period:   q.Get("dateRange"),
		timezone: q.Get("timezone"),
		search:   strings.TrimSpace(q.Get("search")),
	}
	if eq.period == "" {
		eq.period = q.Get("period")
	}
	if eq.timezone == "" {
		eq.timezone = s.cfg.Timezone
	}
	if eq.period == "" {
		eq.period = string(daterange.PeriodToday)
	}

	from, to := q.Get("from"), q.Get("to")
	switch {
	case from != "" && to != "":
		if !dateParamRe.MatchString(from) || !dateParamRe.MatchString(to) {
			return eventsQuery{}, errors.New("from/to must be YYYY-MM-DD")
		}
		if from > to {
			return eventsQuery{}, errors.New("from must not be after to")
		}
		eq.rng = daterange.Range{StartDate: from, EndDate: to}
	case from != "" || to != "":
		return eventsQuery{}, errors.New("from and to must be given together")
	default:
		eq.rng = daterange.Resolve(daterange.Period(eq.period), eq.timezone, time.Now())
	}

	for _, c := range splitParam(q.Get("countries")) {
		eq.countries = append(eq.countries, strings.ToUpper(c))
	}
	for _, im := range splitParam(q.Get("impacts")) {
		if !model.ValidImpact(im) {
			return eventsQuery{}, fmt.Errorf("unknown impact %q", im)
		}
		eq.impacts = append(eq.impacts, im)
	}

	for _, cat := range splitParam(q.Get("categories")) {
		known := false
		for _, c := range taxonomy.Categories() {
			if c == cat {
				known = true
				break
			}
		}
		if !known {
			return eventsQuery{}, fmt.Errorf("unknown category %q", cat)
		}
		eq.categories = append(eq.categories, cat)
	}
	return eq, nil
}

func splitParam(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// queryEvents runs the cache query for eq, bootstrapping a never-populated
// cache first. An empty result against a populated cache is returned as
// is: a quiet period is real data, not a failure.
func (s *Server) queryEvents(r *http.Request, eq eventsQuery) ([]model.CanonicalEvent, error) {
	ctx := r.Context()

	needsBoot, err := s.coord.NeedsBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if needsBoot {
		if err := s.coord.Bootstrap(ctx); err != nil {
			return nil, err
		}
	}

	events, err := s.store.QueryEvents(ctx, store.Query{
		FromDate:  eq.rng.StartDate,
		ToDate:    eq.rng.EndDate,
		Countries: eq.countries,
		Impacts:   eq.impacts,
	})
	if err != nil {
		return nil, err
	}
	return filterEvents(events, eq.categories, eq.search), nil
}

// filterEvents applies the in-process filters the SQL query cannot
// express: category membership (an event can match several categories,
// only the first of which is stored) and free-text search.
func filterEvents(events []model.CanonicalEvent, categories []string, search string) []model.CanonicalEvent {
	if len(categories) == 0 && search == "" {
		return events
	}
	search = strings.ToLower(search)

	out := make([]model.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		if len(categories) > 0 && !eventInCategories(ev, categories) {
			continue
		}
		if search != "" && !eventMatchesSearch(ev, search) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func eventInCategories(ev model.CanonicalEvent, categories []string) bool {
	// Categorization keywords are defined against the original name; the
	// stored primary category is a shortcut for the common case.
	matched := taxonomy.Categorize(ev.EventOriginal)
	for _, want := range categories {
		if ev.Category != nil && *ev.Category == want {
			return true
		}
		for _, c := range matched {
			if c == want {
				return true
			}
		}
	}
	return false
}

func eventMatchesSearch(ev model.CanonicalEvent, lowered string) bool {
	return strings.Contains(strings.ToLower(ev.Event), lowered) ||
		strings.Contains(strings.ToLower(ev.EventOriginal), lowered) ||
		strings.Contains(strings.ToLower(ev.Country), lowered) ||
		strings.Contains(strings.ToLower(ev.CountryName), lowered)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events    []model.CanonicalEvent `json:"events"`
	Count     int                    `json:"count"`
	Period    string                 `json:"period"`
	StartDate string                 `json:"startDate"`
	EndDate   string                 `json:"endDate"`
	Timezone  string                 `json:"timezone"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	eq, err := s.parseEventsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.queryEvents(r, eq)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	if events == nil {
		events = []model.CanonicalEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    events,
		Count:     len(events),
		Period:    eq.period,
		StartDate: eq.rng.StartDate,
		EndDate:   eq.rng.EndDate,
		Timezone:  eq.timezone,
	})
}

// writeQueryError distinguishes a failed cold-start population (the
// caller can retry later) from an internal fault.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, refresh.ErrBootstrapFailed) {
		appLog.Error("events query: bootstrap failed", err)
		type bootResp struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		writeJSON(w, http.StatusServiceUnavailable, bootResp{
			Error:   "calendar data is not available yet; try again shortly",
			Details: err.Error(),
		})
		return
	}
	appLog.Error("events query failed", err)
	writeError(w, http.StatusInternalServerError, "failed to query events")
}

// handleEventsICS serves the filtered range as an iCalendar feed, one
// VEVENT per release, so the calendar plugs into standard clients.
func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	eq, err := s.parseEventsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.queryEvents(r, eq)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//macrocal//economic calendar//EN")

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID + "@macrocal")
		ve.SetStartAt(ev.EventTimestamp)
		// Releases are instants; give clients a nominal block to render.
		ve.SetEndAt(ev.EventTimestamp.Add(15 * time.Minute))
		ve.SetSummary(fmt.Sprintf("[%s] %s", ev.Country, ev.Event))
		ve.SetDescription(icsDescription(ev))
		ve.SetDtStampTime(ev.FetchedAt)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="macrocal.ics"`)
	if _, err := w.Write([]byte(cal.Serialize())); err != nil {
		appLog.Error("failed to write ICS response", err)
	}
}

func icsDescription(ev model.CanonicalEvent) string {
	parts := []string{
		"Country: " + ev.CountryName,
		"Impact: " + string(ev.Impact),
	}
	if ev.Actual != nil {
		parts = append(parts, "Actual: "+*ev.Actual)
	}
	if ev.Forecast != nil {
		parts = append(parts, "Forecast: "+*ev.Forecast)
	}
	if ev.Previous != nil {
		parts = append(parts, "Previous: "+*ev.Previous)
	}
	if ev.Category != nil {
		parts = append(parts, "Category: "+*ev.Category)
	}
	return strings.Join(parts, "\n")
}

// handleEventsCSV serves the filtered range as CSV, with times rendered
// in the viewer timezone.
func (s *Server) handleEventsCSV(w http.ResponseWriter, r *http.Request) {
	eq, err := s.parseEventsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.queryEvents(r, eq)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	loc, err := time.LoadLocation(eq.timezone)
	if err != nil {
		loc = time.UTC
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="macrocal.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"datetime", "date", "time", "country", "country_name",
		"event", "impact", "actual", "forecast", "previous", "category",
	})
	for _, ev := range events {
		local := ev.EventTimestamp.In(loc)
		_ = cw.Write([]string{
			local.Format(time.RFC3339),
			local.Format("2006-01-02"),
			local.Format("15:04"),
			ev.Country,
			ev.CountryName,
			ev.Event,
			string(ev.Impact),
			derefOr(ev.Actual, ""),
			derefOr(ev.Forecast, ""),
			derefOr(ev.Previous, ""),
			derefOr(ev.Category, ""),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		appLog.Error("failed to write CSV response", err)
	}
}

func derefOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
