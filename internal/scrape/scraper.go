// Package scrape drives a headless Chromium session against the source
// site's economic calendar and turns its table rows into canonical
// events.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "macrocal/internal/log"
	"macrocal/internal/model"
)

// blockedURLPatterns keeps heavy static assets from loading. Scripts and
// documents must never appear here: the calendar is a JS-rendered page
// and blocking them yields an empty table.
var blockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.webp", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.css",
}

// Config holds scraper tuning. Zero values are filled by New.
type Config struct {
	// URL is the calendar page.
	URL string

	// Timezone is the IANA zone the site displays times in. It is both
	// emulated in the browser and assumed during UTC conversion; the two
	// must never diverge or scraped times go silently wrong.
	Timezone string

	UserAgent string

	// NavTimeout bounds the initial navigation, SelectorTimeout each
	// element/loading wait.
	NavTimeout      time.Duration
	SelectorTimeout time.Duration

	// RetryAttempts is the per-window attempt budget; RetryDelay the
	// pause between attempts.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Scraper runs one browser session at a time. Callers (the refresh
// coordinator) are responsible for not invoking it concurrently.
type Scraper struct {
	cfg       Config
	sourceLoc *time.Location
	extractor RowExtractor
}

// New validates cfg, resolves the source timezone and returns a Scraper.
func New(cfg Config) (*Scraper, error) {
	if cfg.URL == "" {
		return nil, errors.New("scrape: URL is required")
	}
	if cfg.Timezone == "" {
		return nil, errors.New("scrape: source timezone is required")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scrape: load source timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 90 * time.Second
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 15 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	return &Scraper{cfg: cfg, sourceLoc: loc}, nil
}

// SourceLocation returns the site's display timezone.
func (s *Scraper) SourceLocation() *time.Location {
	return s.sourceLoc
}

// Scrape fetches and normalizes all events for a relative window,
// retrying up to the configured attempt budget. Terminal failure returns
// the last error; the caller decides whether to skip the window.
func (s *Scraper) Scrape(ctx context.Context, window model.Window) ([]model.CanonicalEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		events, err := s.scrapeOnce(ctx, window)
		if err == nil {
			appLog.Info("scrape window complete",
				"window", string(window), "attempt", attempt, "events", len(events))
			return events, nil
		}
		lastErr = err

		var structErr *StructureError
		if errors.As(err, &structErr) {
			appLog.Warn("scrape structure mismatch, selectors may be outdated",
				"window", string(window), "attempt", attempt, "selector", structErr.Selector)
		} else {
			appLog.Warn("scrape attempt failed",
				"window", string(window), "attempt", attempt, "err", err)
		}

		if attempt < s.cfg.RetryAttempts {
			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("scrape %s after %d attempts: %w", window, s.cfg.RetryAttempts, lastErr)
}

// ScrapeDateRange fetches events for an explicit date span by driving the
// site's own date-range picker. Used by history backfills where the
// relative timeframe tabs cannot reach.
func (s *Scraper) ScrapeDateRange(ctx context.Context, start, end time.Time) ([]model.CanonicalEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		events, err := s.scrapeRangeOnce(ctx, start, end)
		if err == nil {
			return events, nil
		}
		lastErr = err
		appLog.Warn("scrape date range attempt failed",
			"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"),
			"attempt", attempt, "err", err)
		if attempt < s.cfg.RetryAttempts {
			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("scrape range after %d attempts: %w", s.cfg.RetryAttempts, lastErr)
}

// session wraps one live browser context.
type session struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

func (s *session) close() {
	// Cancel in reverse construction order.
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
}

// newSession launches an isolated headless browser, applies resource
// blocking and timezone emulation, and navigates to the calendar page,
// waiting for the table root to exist.
func (s *Scraper) newSession(ctx context.Context) (*session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Image loading off at the renderer level; the rest of the heavy
		// assets are blocked per URL pattern below.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(s.cfg.UserAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	sess := &session{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelAlloc, cancelBrowser},
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, s.cfg.NavTimeout)
	defer cancelNav()

	err := chromedp.Run(navCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedURLPatterns),
		// The extracted times are interpreted in this zone downstream; if
		// the emulation drifts from Config.Timezone the data is wrong
		// without any error surfacing.
		emulation.SetTimezoneOverride(s.cfg.Timezone),
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitReady(selCalendarTable, chromedp.ByID),
	)
	if err != nil {
		sess.close()
		if isDeadline(err) {
			return nil, &TimeoutError{Op: "navigate", Err: err}
		}
		return nil, fmt.Errorf("scrape: navigation failed: %w", err)
	}

	// Overlays intercept clicks on the filter controls; removal is best
	// effort and repeated before every interaction.
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(removeOverlaysJS, nil)); err != nil {
		appLog.Debug("overlay removal failed", "err", err)
	}

	return sess, nil
}

func (s *Scraper) scrapeOnce(ctx context.Context, window model.Window) ([]model.CanonicalEvent, error) {
	sess, err := s.newSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	// The page opens on "today"; every other window is a tab click plus
	// a wait for the asynchronous table reload.
	if window != model.WindowToday {
		if err := s.selectTimeframe(sess, window); err != nil {
			// The tab click can be blocked by a late ad overlay. The page
			// then still shows today's data, which is better than nothing;
			// log and extract what is there.
			appLog.Warn("timeframe switch failed, extracting default view",
				"window", string(window), "err", err)
		}
	}

	rows, err := s.extractRows(sess)
	if err != nil {
		return nil, err
	}

	return NormalizeRows(rows, s.sourceLoc, s.fallbackDate(window)), nil
}

func (s *Scraper) scrapeRangeOnce(ctx context.Context, start, end time.Time) ([]model.CanonicalEvent, error) {
	sess, err := s.newSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	if err := s.applyDateRange(sess, start, end); err != nil {
		return nil, err
	}

	rows, err := s.extractRows(sess)
	if err != nil {
		return nil, err
	}

	// No sensible single fallback date exists for a multi-day span; rows
	// without a recoverable separator are attributed to the span start.
	return NormalizeRows(rows, s.sourceLoc, start.In(s.sourceLoc).Format("2006-01-02")), nil
}

// selectTimeframe clicks the relative-window tab and waits for the table
// reload to settle.
func (s *Scraper) selectTimeframe(sess *session, window model.Window) error {
	selector := timeframeSelector(string(window))

	clickCtx, cancel := context.WithTimeout(sess.ctx, s.cfg.SelectorTimeout)
	defer cancel()
	err := chromedp.Run(clickCtx,
		chromedp.Evaluate(removeOverlaysJS, nil),
		chromedp.WaitVisible(selector, chromedp.ByID),
		chromedp.Click(selector, chromedp.ByID),
	)
	if err != nil {
		if isDeadline(err) {
			return &TimeoutError{Op: "timeframe tab " + string(window), Err: err}
		}
		return &StructureError{Selector: selector, Err: err}
	}

	return s.waitForReload(sess)
}

// applyDateRange opens the date picker, writes dd/mm/yyyy bounds into its
// inputs and applies them.
func (s *Scraper) applyDateRange(sess *session, start, end time.Time) error {
	const pickerDateLayout = "02/01/2006"
	startStr := start.In(s.sourceLoc).Format(pickerDateLayout)
	endStr := end.In(s.sourceLoc).Format(pickerDateLayout)

	var datesSet bool
	pickCtx, cancel := context.WithTimeout(sess.ctx, s.cfg.SelectorTimeout)
	defer cancel()
	err := chromedp.Run(pickCtx,
		chromedp.Evaluate(removeOverlaysJS, nil),
		chromedp.WaitVisible(selDatePicker, chromedp.ByID),
		chromedp.Click(selDatePicker, chromedp.ByID),
		chromedp.WaitVisible(selStartDate, chromedp.ByID),
		chromedp.Evaluate(fmt.Sprintf("%s(%q, %q)", setPickerDatesJS, startStr, endStr), &datesSet),
	)
	if err != nil {
		if isDeadline(err) {
			return &TimeoutError{Op: "date picker", Err: err}
		}
		return &StructureError{Selector: selDatePicker, Err: err}
	}
	if !datesSet {
		return &StructureError{Selector: selStartDate + ", " + selEndDate}
	}

	applyCtx, cancelApply := context.WithTimeout(sess.ctx, s.cfg.SelectorTimeout)
	defer cancelApply()
	if err := chromedp.Run(applyCtx, chromedp.Click(selApplyButton, chromedp.ByID)); err != nil {
		return &StructureError{Selector: selApplyButton, Err: err}
	}

	return s.waitForReload(sess)
}

// waitForReload polls until the loading indicator is gone and rows are
// present, instead of sleeping a fixed duration: the reload latency is
// highly variable.
func (s *Scraper) waitForReload(sess *session) error {
	waitCtx, cancel := context.WithTimeout(sess.ctx, 2*s.cfg.SelectorTimeout)
	defer cancel()

	var settled bool
	err := chromedp.Run(waitCtx,
		chromedp.Poll(loadingGoneJS, &settled, chromedp.WithPollingInterval(250*time.Millisecond)),
	)
	if err != nil {
		if isDeadline(err) || errors.Is(err, chromedp.ErrPollingTimeout) {
			return &TimeoutError{Op: "table reload", Err: err}
		}
		return fmt.Errorf("scrape: reload wait: %w", err)
	}

	// Brief settle for the last paint of lazily rendered rows.
	return chromedp.Run(sess.ctx, chromedp.Sleep(500*time.Millisecond))
}

// extractRows runs the extraction script, or the injected test extractor.
func (s *Scraper) extractRows(sess *session) ([]RawRow, error) {
	if s.extractor != nil {
		return s.extractor.ExtractRows(sess.ctx)
	}

	extractCtx, cancel := context.WithTimeout(sess.ctx, s.cfg.SelectorTimeout)
	defer cancel()

	var tableOK bool
	if err := chromedp.Run(extractCtx, chromedp.Evaluate(tableExistsJS, &tableOK)); err != nil {
		if isDeadline(err) {
			return nil, &TimeoutError{Op: "extract", Err: err}
		}
		return nil, fmt.Errorf("scrape: extraction probe: %w", err)
	}
	if !tableOK {
		return nil, &StructureError{Selector: selCalendarTable + " tbody"}
	}

	var rows []RawRow
	if err := chromedp.Run(extractCtx, chromedp.Evaluate(extractRowsJS, &rows)); err != nil {
		if isDeadline(err) {
			return nil, &TimeoutError{Op: "extract", Err: err}
		}
		return nil, fmt.Errorf("scrape: row extraction: %w", err)
	}
	return rows, nil
}

// fallbackDate returns the date to attribute to rows whose separator was
// not recoverable. Only single-day windows have a meaningful answer;
// week windows return "" (today in the source zone).
func (s *Scraper) fallbackDate(window model.Window) string {
	now := time.Now().In(s.sourceLoc)
	switch window {
	case model.WindowYesterday:
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case model.WindowToday:
		return now.Format("2006-01-02")
	case model.WindowTomorrow:
		return now.AddDate(0, 0, 1).Format("2006-01-02")
	default:
		return ""
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "deadline exceeded")
}
