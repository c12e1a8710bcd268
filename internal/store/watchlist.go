package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a delete targets a row that does not exist
// for the given session.
var ErrNotFound = errors.New("not found")

// WatchlistCountry pins a country for one browser session.
type WatchlistCountry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	CountryCode string    `json:"countryCode"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WatchlistEvent pins a single cached event for one browser session.
type WatchlistEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	EventID   string    `json:"eventId"`
	CreatedAt time.Time `json:"createdAt"`
}

// WatchlistCountries lists the pinned countries for a session.
func (s *Store) WatchlistCountries(ctx context.Context, sessionID string) ([]WatchlistCountry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, country_code, created_at FROM watchlist_countries
		 WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list watchlist countries: %w", err)
	}
	defer rows.Close()

	var out []WatchlistCountry
	for rows.Next() {
		var wc WatchlistCountry
		if err := rows.Scan(&wc.ID, &wc.SessionID, &wc.CountryCode, &wc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist country: %w", err)
		}
		wc.CreatedAt = wc.CreatedAt.UTC()
		out = append(out, wc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter watchlist countries: %w", err)
	}
	return out, nil
}

// AddWatchlistCountry pins a country; adding the same country twice is a
// no-op that returns the existing row.
func (s *Store) AddWatchlistCountry(ctx context.Context, sessionID, countryCode string) (WatchlistCountry, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode == "" {
		return WatchlistCountry{}, errors.New("country code required")
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist_countries(id, session_id, country_code, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, country_code) DO NOTHING`,
		uuid.NewString(), sessionID, countryCode, now,
	); err != nil {
		return WatchlistCountry{}, fmt.Errorf("insert watchlist country: %w", err)
	}

	var wc WatchlistCountry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, country_code, created_at FROM watchlist_countries
		 WHERE session_id = ? AND country_code = ?`, sessionID, countryCode).
		Scan(&wc.ID, &wc.SessionID, &wc.CountryCode, &wc.CreatedAt)
	if err != nil {
		return WatchlistCountry{}, fmt.Errorf("get watchlist country: %w", err)
	}
	wc.CreatedAt = wc.CreatedAt.UTC()
	return wc, nil
}

// RemoveWatchlistCountry unpins a country for a session.
func (s *Store) RemoveWatchlistCountry(ctx context.Context, sessionID, countryCode string) error {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist_countries WHERE session_id = ? AND country_code = ?`,
		sessionID, countryCode)
	if err != nil {
		return fmt.Errorf("delete watchlist country: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// WatchlistEvents lists the pinned events for a session.
func (s *Store) WatchlistEvents(ctx context.Context, sessionID string) ([]WatchlistEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_id, created_at FROM watchlist_events
		 WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list watchlist events: %w", err)
	}
	defer rows.Close()

	var out []WatchlistEvent
	for rows.Next() {
		var we WatchlistEvent
		if err := rows.Scan(&we.ID, &we.SessionID, &we.EventID, &we.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist event: %w", err)
		}
		we.CreatedAt = we.CreatedAt.UTC()
		out = append(out, we)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter watchlist events: %w", err)
	}
	return out, nil
}

// AddWatchlistEvent pins an event; duplicates return the existing row.
func (s *Store) AddWatchlistEvent(ctx context.Context, sessionID, eventID string) (WatchlistEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return WatchlistEvent{}, errors.New("event id required")
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist_events(id, session_id, event_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, event_id) DO NOTHING`,
		uuid.NewString(), sessionID, eventID, now,
	); err != nil {
		return WatchlistEvent{}, fmt.Errorf("insert watchlist event: %w", err)
	}

	var we WatchlistEvent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, event_id, created_at FROM watchlist_events
		 WHERE session_id = ? AND event_id = ?`, sessionID, eventID).
		Scan(&we.ID, &we.SessionID, &we.EventID, &we.CreatedAt)
	if err != nil {
		return WatchlistEvent{}, fmt.Errorf("get watchlist event: %w", err)
	}
	we.CreatedAt = we.CreatedAt.UTC()
	return we, nil
}

// RemoveWatchlistEvent unpins an event for a session.
func (s *Store) RemoveWatchlistEvent(ctx context.Context, sessionID, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist_events WHERE session_id = ? AND event_id = ?`,
		sessionID, eventID)
	if err != nil {
		return fmt.Errorf("delete watchlist event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
