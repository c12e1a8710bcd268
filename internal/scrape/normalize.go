package scrape

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"macrocal/internal/model"
	"macrocal/internal/taxonomy"
)

// country identifies a tracked economy.
type country struct {
	Code string
	Name string
}

// countryByDisplayName maps the source site's country labels to tracked
// economies. Rows from other countries are discarded before
// normalization.
var countryByDisplayName = map[string]country{
	"Estados Unidos": {Code: "USA", Name: "United States"},
	"EE.UU.":         {Code: "USA", Name: "United States"},
	"Zona Euro":      {Code: "EUR", Name: "Eurozone"},
	"Eurozona":       {Code: "EUR", Name: "Eurozone"},
	"Alemania":       {Code: "DEU", Name: "Germany"},
	"Francia":        {Code: "FRA", Name: "France"},
	"España":         {Code: "ESP", Name: "Spain"},
	"Reino Unido":    {Code: "GBR", Name: "United Kingdom"},
	"China":          {Code: "CHN", Name: "China"},
	"Japón":          {Code: "JPN", Name: "Japan"},
}

// countryByCurrency is the fallback when the flag title is missing or
// abbreviated past recognition.
var countryByCurrency = map[string]country{
	"USD": {Code: "USA", Name: "United States"},
	"EUR": {Code: "EUR", Name: "Eurozone"},
	"GBP": {Code: "GBR", Name: "United Kingdom"},
	"JPY": {Code: "JPN", Name: "Japan"},
	"CNY": {Code: "CHN", Name: "China"},
	"RMB": {Code: "CHN", Name: "China"},
}

// spanishMonths maps the site's lowercase month names to month numbers.
var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// separatorDateRe pulls the numeric core ("24 de diciembre de 2025") out
// of a long-form separator label, ignoring the weekday prefix.
var separatorDateRe = regexp.MustCompile(`(\d{1,2})\s+de\s+(\p{L}+)\s+de\s+(\d{4})`)

// parseSeparatorDate converts a localized long-form date label into
// YYYY-MM-DD form.
func parseSeparatorDate(text string) (string, error) {
	m := separatorDateRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", fmt.Errorf("unrecognized separator date %q", text)
	}
	month, ok := spanishMonths[m[2]]
	if !ok {
		return "", fmt.Errorf("unknown month %q in %q", m[2], text)
	}
	var day, year int
	fmt.Sscanf(m[1], "%d", &day)
	fmt.Sscanf(m[3], "%d", &year)
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day), nil
}

// normalizeTime converts a display time ("14:30") to HH:MM:SS. All-day
// markers and anything unparseable normalize to midnight.
func normalizeTime(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, ":") {
		return "00:00:00"
	}
	parts := strings.SplitN(text, ":", 2)
	hh := strings.TrimSpace(parts[0])
	mm := strings.TrimSpace(parts[1])
	if len(hh) == 1 {
		hh = "0" + hh
	}
	if len(mm) == 1 {
		mm = "0" + mm
	}
	if len(hh) != 2 || len(mm) != 2 {
		return "00:00:00"
	}
	return hh + ":" + mm + ":00"
}

// resolveCountry matches a row's country label or currency against the
// tracked economies. ok is false for rows outside the target list.
func resolveCountry(countryText, currency string) (country, bool) {
	for name, c := range countryByDisplayName {
		if strings.Contains(countryText, name) || (countryText != "" && strings.Contains(name, countryText)) {
			return c, true
		}
	}
	if c, ok := countryByCurrency[strings.ToUpper(currency)]; ok {
		return c, true
	}
	return country{}, false
}

// NormalizeRows converts raw DOM rows into canonical events.
//
// sourceLoc is the timezone the site displays times in; the wall clock
// (date + time) is interpreted there and converted to UTC. fallbackDate
// covers rows whose separator could not be recovered; empty means "use
// today in the source timezone". Rows with no event name or time, rows
// from untracked countries, and rows whose date cannot be determined at
// all are skipped.
func NormalizeRows(rows []RawRow, sourceLoc *time.Location, fallbackDate string) []model.CanonicalEvent {
	if fallbackDate == "" {
		fallbackDate = time.Now().In(sourceLoc).Format("2006-01-02")
	}

	events := make([]model.CanonicalEvent, 0, len(rows))
	for _, row := range rows {
		if row.EventText == "" || strings.TrimSpace(row.TimeText) == "" {
			continue
		}

		c, ok := resolveCountry(row.CountryText, row.Currency)
		if !ok {
			continue
		}

		date := fallbackDate
		if row.DateText != "" {
			if parsed, err := parseSeparatorDate(row.DateText); err == nil {
				date = parsed
			}
		}

		timeStr := normalizeTime(row.TimeText)

		// Interpret the scraped wall clock in the source timezone; the
		// library handles whether that zone was on DST for this date.
		wallClock, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+timeStr, sourceLoc)
		if err != nil {
			continue
		}

		original := row.EventText
		categories := taxonomy.Categorize(original)
		var category *string
		if len(categories) > 0 {
			category = &categories[0]
		}

		events = append(events, model.CanonicalEvent{
			ID:             model.EventID(date, timeStr, c.Code, original),
			EventTimestamp: wallClock.UTC(),
			Date:           date,
			Time:           timeStr,
			Country:        c.Code,
			CountryName:    c.Name,
			Event:          taxonomy.Translate(original),
			EventOriginal:  original,
			Impact:         model.ImpactFromIconCount(row.IconCount),
			Actual:         emptyToNil(row.Actual),
			Forecast:       emptyToNil(row.Forecast),
			Previous:       emptyToNil(row.Previous),
			Category:       category,
		})
	}
	return events
}

func emptyToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
