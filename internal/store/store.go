// Package store persists canonical events and the session-scoped
// watchlist/notification tables in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver (pure Go)

	"macrocal/internal/model"
)

// upsertBatchSize bounds how many rows go into one INSERT statement.
const upsertBatchSize = 100

// Store wraps the SQLite database backing the events cache.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and enables
// a busy timeout to reduce contention errors between the scraper's writes
// and query reads.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init applies schema migrations.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cached_events (
			id              TEXT PRIMARY KEY,
			event_timestamp TIMESTAMP NOT NULL,
			date            TEXT NOT NULL,
			time            TEXT NOT NULL,
			country         TEXT NOT NULL,
			country_name    TEXT NOT NULL,
			event           TEXT NOT NULL,
			event_original  TEXT NOT NULL,
			impact          TEXT NOT NULL,
			actual          TEXT,
			forecast        TEXT,
			previous        TEXT,
			category        TEXT,
			fetched_at      TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cached_events_date_country_impact
			ON cached_events(date, country, impact);`,
		`CREATE INDEX IF NOT EXISTS idx_cached_events_timestamp
			ON cached_events(event_timestamp);`,
		`CREATE TABLE IF NOT EXISTS watchlist_countries (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			country_code TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			UNIQUE(session_id, country_code)
		);`,
		`CREATE TABLE IF NOT EXISTS watchlist_events (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			event_id   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, event_id)
		);`,
		`CREATE TABLE IF NOT EXISTS notification_schedules (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			event_id        TEXT NOT NULL,
			event_timestamp TIMESTAMP NOT NULL,
			minutes_before  INTEGER NOT NULL,
			sent_at         TIMESTAMP,
			created_at      TIMESTAMP NOT NULL,
			UNIQUE(session_id, event_id, minutes_before)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notification_schedules_pending
			ON notification_schedules(sent_at, event_timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertEvents writes events into the cache, inserting new rows and
// overwriting the mutable columns (date, timestamp, values, category,
// fetched_at) of existing ones. Fields fixed by the content-hash id are
// left untouched on conflict.
//
// The input batch is deduplicated by id first (last occurrence wins):
// provider feeds can repeat an id within one scrape, and SQLite rejects
// an upsert that touches the same row twice in a single statement.
func (s *Store) UpsertEvents(ctx context.Context, events []model.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	deduped := dedupeByID(events)
	now := time.Now().UTC()

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		batch := deduped[start:end]

		if err := s.upsertBatch(ctx, batch, now); err != nil {
			return fmt.Errorf("upsert batch of %d: %w", len(batch), err)
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, batch []model.CanonicalEvent, now time.Time) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO cached_events
		(id, event_timestamp, date, time, country, country_name, event, event_original,
		 impact, actual, forecast, previous, category, fetched_at) VALUES `)

	args := make([]any, 0, len(batch)*14)
	for i, ev := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		fetchedAt := ev.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = now
		}
		args = append(args,
			ev.ID, ev.EventTimestamp.UTC(), ev.Date, ev.Time,
			ev.Country, ev.CountryName, ev.Event, ev.EventOriginal,
			string(ev.Impact), nullable(ev.Actual), nullable(ev.Forecast), nullable(ev.Previous),
			nullable(ev.Category), fetchedAt,
		)
	}

	sb.WriteString(` ON CONFLICT(id) DO UPDATE SET
		date            = excluded.date,
		event_timestamp = excluded.event_timestamp,
		actual          = excluded.actual,
		forecast        = excluded.forecast,
		previous        = excluded.previous,
		category        = excluded.category,
		fetched_at      = excluded.fetched_at`)

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// dedupeByID keeps the last record seen for each id, preserving the
// position of the first occurrence so sweep ordering stays stable.
func dedupeByID(events []model.CanonicalEvent) []model.CanonicalEvent {
	index := make(map[string]int, len(events))
	out := make([]model.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		if pos, ok := index[ev.ID]; ok {
			out[pos] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

// Query selects cached events for a range with optional filters.
type Query struct {
	// FromDate / ToDate are inclusive YYYY-MM-DD bounds in source-local
	// form. When set they are the authoritative filter.
	FromDate string
	ToDate   string

	// StartUTC / EndUTC are used only when the date strings are absent.
	StartUTC *time.Time
	EndUTC   *time.Time

	// Countries / Impacts are equality-in-set filters.
	Countries []string
	Impacts   []string
}

// QueryEvents returns matching events ordered by event timestamp.
func (s *Store) QueryEvents(ctx context.Context, q Query) ([]model.CanonicalEvent, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 8)

	switch {
	case q.FromDate != "" && q.ToDate != "":
		clauses = append(clauses, "date >= ?", "date <= ?")
		args = append(args, q.FromDate, q.ToDate)
	case q.StartUTC != nil && q.EndUTC != nil:
		clauses = append(clauses, "event_timestamp >= ?", "event_timestamp <= ?")
		args = append(args, q.StartUTC.UTC(), q.EndUTC.UTC())
	}

	if len(q.Countries) > 0 {
		clauses = append(clauses, inClause("country", len(q.Countries)))
		for _, c := range q.Countries {
			args = append(args, c)
		}
	}
	if len(q.Impacts) > 0 {
		clauses = append(clauses, inClause("impact", len(q.Impacts)))
		for _, im := range q.Impacts {
			args = append(args, im)
		}
	}

	query := `SELECT id, event_timestamp, date, time, country, country_name, event,
		event_original, impact, actual, forecast, previous, category, fetched_at
		FROM cached_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY event_timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.CanonicalEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (model.CanonicalEvent, error) {
	var (
		ev       model.CanonicalEvent
		impact   string
		actual   sql.NullString
		forecast sql.NullString
		previous sql.NullString
		category sql.NullString
	)
	err := rows.Scan(
		&ev.ID, &ev.EventTimestamp, &ev.Date, &ev.Time,
		&ev.Country, &ev.CountryName, &ev.Event, &ev.EventOriginal,
		&impact, &actual, &forecast, &previous, &category, &ev.FetchedAt,
	)
	if err != nil {
		return model.CanonicalEvent{}, err
	}
	ev.EventTimestamp = ev.EventTimestamp.UTC()
	ev.FetchedAt = ev.FetchedAt.UTC()
	ev.Impact = model.Impact(impact)
	ev.Actual = fromNull(actual)
	ev.Forecast = fromNull(forecast)
	ev.Previous = fromNull(previous)
	ev.Category = fromNull(category)
	return ev, nil
}

// LatestDate returns the maximum date across all cached rows, or "" when
// the cache has never been populated. Callers use this to tell a cold
// cache apart from a legitimately empty period.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM cached_events`).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("latest cached date: %w", err)
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

// LatestFetch returns the most recent fetched_at timestamp, or the zero
// time when the cache is empty. Used for staleness reporting.
func (s *Store) LatestFetch(ctx context.Context) (time.Time, error) {
	// MAX(fetched_at) strips the column decltype, so the driver hands the
	// aggregate back as a string; selecting the column itself keeps the
	// timestamp affinity.
	var latest time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM cached_events ORDER BY fetched_at DESC LIMIT 1`).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest fetch time: %w", err)
	}
	return latest.UTC(), nil
}

// PruneOlderThan deletes rows whose date precedes today minus the given
// number of days. Returns the number of rows removed.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `DELETE FROM cached_events WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events before %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearEvents truncates the events cache. Administrative reset only.
func (s *Store) ClearEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func inClause(column string, n int) string {
	return column + " IN (?" + strings.Repeat(", ?", n-1) + ")"
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
