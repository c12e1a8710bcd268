package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"macrocal/internal/config"
	appLog "macrocal/internal/log"
	"macrocal/internal/notify"
	"macrocal/internal/refresh"
	"macrocal/internal/scrape"
	"macrocal/internal/store"
	"macrocal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	dbPath     string
	backfill   string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("macrocal starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file where provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dbPath != "" {
		conf.DBPath = flags.dbPath
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"db_path", conf.DBPath,
		"timezone", conf.Timezone,
		"source_url", conf.Source.URL,
		"source_timezone", conf.Source.Timezone,
		"sweep_cron", conf.Refresh.SweepCron,
		"rolling_cron", conf.Refresh.RollingCron,
		"retention_days", conf.Refresh.RetentionDays,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	st, err := store.Open(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open database", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		appLog.Error("failed to apply schema", err)
		os.Exit(1)
	}

	scraper, err := scrape.New(scrape.Config{
		URL:             conf.Source.URL,
		Timezone:        conf.Source.Timezone,
		UserAgent:       conf.Source.UserAgent,
		NavTimeout:      time.Duration(conf.Scrape.NavTimeoutSec) * time.Second,
		SelectorTimeout: time.Duration(conf.Scrape.SelectorTimeoutSec) * time.Second,
		RetryAttempts:   conf.Scrape.RetryAttempts,
		RetryDelay:      time.Duration(conf.Scrape.RetryDelaySec) * time.Second,
	})
	if err != nil {
		appLog.Error("failed to build scraper", err)
		os.Exit(1)
	}

	coord := refresh.New(scraper, st, refresh.Config{
		WindowDelay:   time.Duration(conf.Scrape.WindowDelaySec) * time.Second,
		RetentionDays: conf.Refresh.RetentionDays,
		StaleAfter:    time.Duration(conf.Refresh.StaleAfterHours) * time.Hour,
	})

	if flags.backfill != "" {
		// One-shot history backfill via the site's date-range picker; the
		// relative timeframe tabs only reach one week back.
		if err := runBackfill(ctx, scraper, st, flags.backfill); err != nil {
			appLog.Error("backfill failed", err, "range", flags.backfill)
			os.Exit(1)
		}
		appLog.Info("macrocal exiting")
		return
	}

	if flags.once {
		// Single-shot sweep and exit; used by system timers and for
		// populating the cache before first serving traffic.
		if err := coord.RefreshAll(ctx); err != nil {
			appLog.Error("sweep failed", err)
			os.Exit(1)
		}
		appLog.Info("macrocal exiting")
		return
	}

	runner := cron.New()
	if err := coord.Schedule(runner, conf.Refresh.SweepCron, conf.Refresh.RollingCron); err != nil {
		appLog.Error("failed to schedule refresh jobs", err)
		os.Exit(1)
	}
	if err := notify.NewChecker(st).Schedule(runner); err != nil {
		appLog.Error("failed to schedule notification checker", err)
		os.Exit(1)
	}
	runner.Start()
	defer runner.Stop()

	server := web.NewServer(conf, st, coord)
	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	}

	appLog.Info("macrocal exiting")
}

// runBackfill scrapes one explicit date span and upserts the result.
func runBackfill(ctx context.Context, scraper *scrape.Scraper, st *store.Store, span string) error {
	from, to, err := parseBackfillSpan(span, scraper.SourceLocation())
	if err != nil {
		return err
	}

	events, err := scraper.ScrapeDateRange(ctx, from, to)
	if err != nil {
		return err
	}
	if err := st.UpsertEvents(ctx, events); err != nil {
		return err
	}

	appLog.Info("backfill complete",
		"from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"),
		"events", len(events))
	return nil
}

// parseBackfillSpan parses "FROM,TO" dates in the source timezone.
func parseBackfillSpan(span string, loc *time.Location) (time.Time, time.Time, error) {
	fromStr, toStr, ok := strings.Cut(span, ",")
	if !ok {
		return time.Time{}, time.Time{}, errors.New("backfill range must be FROM,TO (YYYY-MM-DD)")
	}
	from, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(fromStr), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill from date: %w", err)
	}
	to, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(toStr), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill to date: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("backfill from date is after to date")
	}
	return from, to, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/macrocal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dbPath, "db", "", "SQLite database path (overrides config if set)")
	flag.StringVar(&cfg.backfill, "backfill", "",
		"Scrape an explicit date range into the cache and exit (FROM,TO as YYYY-MM-DD)")
	flag.BoolVar(&cfg.once, "once", false, "Run one full refresh sweep and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
