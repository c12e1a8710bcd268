// Package refresh owns when and how the event cache is repopulated: cron
// sweeps, on-demand refreshes, cold-start bootstrap and retention.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "macrocal/internal/log"
	"macrocal/internal/model"
)

// ErrBootstrapFailed reports that a cold-start population produced no
// usable data. Query handlers translate it into a service-unavailable
// response rather than serving an empty calendar as if it were real.
var ErrBootstrapFailed = errors.New("bootstrap scrape produced no events")

// requeueDelay is how long a refresh request that lost the global lock
// waits before trying again.
const requeueDelay = 30 * time.Minute

// Scraper fetches events for one relative window.
type Scraper interface {
	Scrape(ctx context.Context, window model.Window) ([]model.CanonicalEvent, error)
}

// Store is the cache surface the coordinator needs.
type Store interface {
	UpsertEvents(ctx context.Context, events []model.CanonicalEvent) error
	LatestDate(ctx context.Context) (string, error)
	LatestFetch(ctx context.Context) (time.Time, error)
	PruneOlderThan(ctx context.Context, days int) (int64, error)
}

// Config tunes the coordinator.
type Config struct {
	// WindowDelay is the pause between consecutive window scrapes within
	// one sweep, to avoid hammering the source.
	WindowDelay time.Duration

	// RetentionDays bounds how far back cached events are kept.
	RetentionDays int

	// StaleAfter is the cache age past which Status reports stale data.
	StaleAfter time.Duration
}

// Status is a snapshot of cache health.
type Status struct {
	Refreshing  bool       `json:"isRefreshing"`
	LastRefresh *time.Time `json:"lastRefreshTime"`
	LatestDate  string     `json:"latestDate"`
	LastFetch   *time.Time `json:"lastFetchTime"`
	Stale       bool       `json:"stale"`
}

// Coordinator serializes all scraping. Exactly one refresh runs at a
// time process-wide; requests arriving during a run are re-queued, not
// stacked, and concurrent bootstrap callers share a single flight.
type Coordinator struct {
	scraper Scraper
	store   Store
	cfg     Config

	mu          sync.Mutex
	refreshing  bool
	lastRefresh *time.Time

	// boot is non-nil while a bootstrap is in progress; latecomers wait
	// on it instead of starting their own browser session.
	boot *bootFlight
}

// bootFlight carries the outcome of one shared bootstrap run. Each
// waiter reads the error of its own flight; a later flight never
// clobbers what an earlier waiter is about to read.
type bootFlight struct {
	done chan struct{}
	err  error
}

// New returns a Coordinator with defaults applied.
func New(scraper Scraper, store Store, cfg Config) *Coordinator {
	if cfg.WindowDelay <= 0 {
		cfg.WindowDelay = 3 * time.Second
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 180
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 12 * time.Hour
	}
	return &Coordinator{scraper: scraper, store: store, cfg: cfg}
}

// tryLock takes the global refresh lock, or reports it busy.
func (c *Coordinator) tryLock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		return false
	}
	c.refreshing = true
	return true
}

func (c *Coordinator) unlock(completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
	if completed {
		now := time.Now().UTC()
		c.lastRefresh = &now
	}
}

// RefreshAll scrapes every relative window, oldest first, then prunes
// expired rows. If another refresh holds the lock the request is
// re-queued after a delay instead of running concurrently.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	return c.run(ctx, "full sweep", model.AllWindows(), true)
}

// RefreshToday re-scrapes only the short rolling horizon, picking up
// actual values as they publish during the day.
func (c *Coordinator) RefreshToday(ctx context.Context) error {
	windows := []model.Window{model.WindowToday, model.WindowTomorrow}
	return c.run(ctx, "rolling refresh", windows, false)
}

func (c *Coordinator) run(ctx context.Context, label string, windows []model.Window, prune bool) error {
	if !c.tryLock() {
		appLog.Info("refresh already running, re-queueing", "job", label, "delay", requeueDelay.String())
		time.AfterFunc(requeueDelay, func() {
			reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if err := c.run(reqCtx, label+" (re-queued)", windows, prune); err != nil {
				appLog.Error("re-queued refresh failed", err, "job", label)
			}
		})
		return nil
	}

	completed := false
	defer func() { c.unlock(completed) }()

	appLog.Info("refresh starting", "job", label, "windows", len(windows))
	start := time.Now()

	total, failed := c.sweep(ctx, windows)
	if failed == len(windows) {
		return fmt.Errorf("refresh %s: all %d windows failed", label, failed)
	}

	if prune {
		if pruned, err := c.store.PruneOlderThan(ctx, c.cfg.RetentionDays); err != nil {
			appLog.Error("retention prune failed", err)
		} else if pruned > 0 {
			appLog.Info("retention prune", "removed", pruned, "days", c.cfg.RetentionDays)
		}
	}

	completed = true
	appLog.Info("refresh complete",
		"job", label, "upserted", total, "failedWindows", failed,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// sweep scrapes the given windows in order, upserting as it goes. A
// window that fails after its retry budget is skipped, not fatal.
func (c *Coordinator) sweep(ctx context.Context, windows []model.Window) (upserted, failed int) {
	for i, window := range windows {
		if i > 0 {
			select {
			case <-time.After(c.cfg.WindowDelay):
			case <-ctx.Done():
				return upserted, failed + (len(windows) - i)
			}
		}

		events, err := c.scraper.Scrape(ctx, window)
		if err != nil {
			appLog.Error("window scrape failed, skipping", err, "window", string(window))
			failed++
			continue
		}
		if err := c.store.UpsertEvents(ctx, events); err != nil {
			appLog.Error("window upsert failed", err, "window", string(window))
			failed++
			continue
		}
		upserted += len(events)
	}
	return upserted, failed
}

// Bootstrap populates an empty cache synchronously. Concurrent callers
// join the in-flight population rather than each launching a browser.
// A run that ends with the cache still empty returns ErrBootstrapFailed.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if flight := c.boot; flight != nil {
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flight := &bootFlight{done: make(chan struct{})}
	c.boot = flight
	c.mu.Unlock()

	// err is published before done closes, so waiters see it without the
	// lock.
	flight.err = c.bootstrapOnce(ctx)

	c.mu.Lock()
	c.boot = nil
	c.mu.Unlock()
	close(flight.done)
	return flight.err
}

func (c *Coordinator) bootstrapOnce(ctx context.Context) error {
	// Another caller may have populated the cache while this one waited.
	latest, err := c.store.LatestDate(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: check cache: %w", err)
	}
	if latest != "" {
		return nil
	}

	appLog.Info("cache empty, bootstrapping")
	if err := c.RefreshAll(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}

	latest, err = c.store.LatestDate(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: recheck cache: %w", err)
	}
	if latest == "" {
		return ErrBootstrapFailed
	}
	return nil
}

// NeedsBootstrap reports whether the cache has never been populated.
func (c *Coordinator) NeedsBootstrap(ctx context.Context) (bool, error) {
	latest, err := c.store.LatestDate(ctx)
	if err != nil {
		return false, err
	}
	return latest == "", nil
}

// Status reports current cache health.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	st := Status{Refreshing: c.refreshing, LastRefresh: c.lastRefresh}
	c.mu.Unlock()

	latest, err := c.store.LatestDate(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: latest date: %w", err)
	}
	st.LatestDate = latest

	fetch, err := c.store.LatestFetch(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: latest fetch: %w", err)
	}
	if !fetch.IsZero() {
		st.LastFetch = &fetch
	}
	st.Stale = fetch.IsZero() || time.Since(fetch) > c.cfg.StaleAfter
	return st, nil
}

// Schedule registers the recurring jobs on an existing cron runner:
// sweepSpec refreshes every window plus retention, rollingSpec only the
// near horizon. The caller owns starting and stopping the runner.
func (c *Coordinator) Schedule(runner *cron.Cron, sweepSpec, rollingSpec string) error {
	if _, err := runner.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := c.RefreshAll(ctx); err != nil {
			appLog.Error("scheduled sweep failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", sweepSpec, err)
	}

	if _, err := runner.AddFunc(rollingSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := c.RefreshToday(ctx); err != nil {
			appLog.Error("scheduled rolling refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule rolling refresh %q: %w", rollingSpec, err)
	}
	return nil
}
