package scrape

import "context"

// The selectors and scripts below are the entire DOM contract with the
// source site. Everything past this file works on RawRow values, so a
// site redesign is absorbed here.

const (
	selCalendarTable = "#economicCalendarData"
	selDatePicker    = "#datePickerToggleBtn"
	selStartDate     = "#startDate"
	selEndDate       = "#endDate"
	selApplyButton   = "#applyBtn"
)

// timeframeSelector returns the tab element for a relative window, e.g.
// "#timeFrame_nextWeek".
func timeframeSelector(window string) string {
	return "#timeFrame_" + window
}

// RawRow is one event row as read from the calendar table, before any
// normalization. Values are verbatim DOM text.
type RawRow struct {
	// SourceID is the numeric suffix of the row's element id. Only used
	// to locate the actual/forecast/previous cells; it is not stable
	// across visits and never persisted.
	SourceID string `json:"sourceId"`

	// DateText is the localized long-form date of the nearest preceding
	// separator row ("jueves, 24 de diciembre de 2025").
	DateText string `json:"dateText"`

	// TimeText is the display time ("14:30") or an all-day marker.
	TimeText string `json:"timeText"`

	Currency    string `json:"currency"`
	CountryText string `json:"countryText"`
	EventText   string `json:"eventText"`

	// IconCount is the number of filled sentiment icons.
	IconCount int `json:"iconCount"`

	Actual   string `json:"actual"`
	Forecast string `json:"forecast"`
	Previous string `json:"previous"`
}

// RowExtractor pulls raw rows out of a loaded calendar page. The
// production implementation evaluates extractRowsJS in the browser; tests
// substitute fixture rows so the normalization pipeline runs without a
// browser.
type RowExtractor interface {
	ExtractRows(ctx context.Context) ([]RawRow, error)
}

// removeOverlaysJS strips consent banners, promo modals and other
// overlays that intercept clicks on the filter controls.
const removeOverlaysJS = `(() => {
	const selectors = [
		".promoModal", ".genPopup", "#onetrust-consent-sdk",
		".overlay", ".popupDiv", "#PromoteSignUpPopUp",
		'[class*="modal"]', '[class*="popup"]',
	];
	for (const s of selectors) {
		document.querySelectorAll(s).forEach((el) => el.remove());
	}
	return true;
})()`

// loadingGoneJS reports that the async table reload has settled: the
// loading indicator is gone and at least one row is rendered.
const loadingGoneJS = `(!document.querySelector("#economicCalendarData .loadingDiv") &&
	!!document.querySelector("#economicCalendarData tbody tr"))`

// tableExistsJS reports whether the calendar table root rendered at all.
const tableExistsJS = `!!document.querySelector("#economicCalendarData tbody")`

// setPickerDatesJS writes dd/mm/yyyy strings straight into the picker
// inputs. Direct value assignment is deliberate: simulated keystrokes are
// slow and flaky against this widget.
const setPickerDatesJS = `((start, end) => {
	const startInput = document.querySelector("#startDate");
	const endInput = document.querySelector("#endDate");
	if (!startInput || !endInput) {
		return false;
	}
	startInput.value = start;
	endInput.value = end;
	return true;
})`

// extractRowsJS walks the table body once. The table interleaves
// date-separator rows with event rows, so the walker carries the current
// date forward and attributes it to each event row. If an event row shows
// up before any separator (lazy rendering), it walks backwards through
// previous siblings to recover the nearest date.
const extractRowsJS = `(() => {
	const separatorText = (row) => {
		if (row.classList.contains("theDay")) {
			const el = row.querySelector(".theDay");
			return ((el ? el.textContent : row.textContent) || "").trim();
		}
		if (!row.id && row.textContent && row.textContent.includes(" de ")) {
			return row.textContent.trim();
		}
		return "";
	};

	const rows = document.querySelectorAll("#economicCalendarData tbody tr");
	const out = [];
	let currentDate = "";

	rows.forEach((row) => {
		const sep = separatorText(row);
		if (sep) {
			currentDate = sep;
			return;
		}
		if (!row.id || !row.id.startsWith("eventRowId_")) {
			return;
		}

		if (!currentDate) {
			let prev = row.previousElementSibling;
			while (prev) {
				const t = separatorText(prev);
				if (t) {
					currentDate = t;
					break;
				}
				prev = prev.previousElementSibling;
			}
		}

		const id = row.id.replace("eventRowId_", "");
		const timeEl = row.querySelector(".time");
		const curEl = row.querySelector(".flagCur");
		const flagEl = row.querySelector(".flagCur .ceFlags");
		const eventEl = row.querySelector(".event a");
		const sentimentEl = row.querySelector("td.sentiment");

		// Actual/forecast/previous live outside the row, tied by id suffix.
		const actualEl = document.querySelector("#eventActual_" + id);
		const forecastEl = document.querySelector("#eventForecast_" + id);
		const previousEl = document.querySelector("#eventPrevious_" + id);

		out.push({
			sourceId: id,
			dateText: currentDate,
			timeText: timeEl ? timeEl.textContent.trim() : "",
			currency: curEl ? (curEl.textContent.trim().split(" ")[0] || "") : "",
			countryText: flagEl ? (flagEl.getAttribute("title") || "") : "",
			eventText: eventEl ? eventEl.textContent.trim() : "",
			iconCount: sentimentEl ? sentimentEl.querySelectorAll(".grayFullBullishIcon").length : 0,
			actual: actualEl ? actualEl.textContent.trim() : "",
			forecast: forecastEl ? forecastEl.textContent.trim() : "",
			previous: previousEl ? previousEl.textContent.trim() : "",
		});
	});

	return out;
})()`
