package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationSchedule records that a session wants to be reminded a
// fixed number of minutes before an event fires. Delivery itself happens
// client-side; the server only tracks when each reminder becomes due.
type NotificationSchedule struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	EventID        string     `json:"eventId"`
	EventTimestamp time.Time  `json:"eventTimestamp"`
	MinutesBefore  int        `json:"minutesBefore"`
	SentAt         *time.Time `json:"sentAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// DueAt returns the instant the reminder should fire.
func (n NotificationSchedule) DueAt() time.Time {
	return n.EventTimestamp.Add(-time.Duration(n.MinutesBefore) * time.Minute)
}

// AddNotification schedules a reminder. Re-adding the same
// (event, minutesBefore) pair for a session returns the existing row.
func (s *Store) AddNotification(ctx context.Context, sessionID, eventID string, eventTimestamp time.Time, minutesBefore int) (NotificationSchedule, error) {
	if eventID == "" {
		return NotificationSchedule{}, errors.New("event id required")
	}
	if minutesBefore < 0 {
		return NotificationSchedule{}, errors.New("minutes before must not be negative")
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_schedules(id, session_id, event_id, event_timestamp, minutes_before, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, event_id, minutes_before) DO NOTHING`,
		uuid.NewString(), sessionID, eventID, eventTimestamp.UTC(), minutesBefore, now,
	); err != nil {
		return NotificationSchedule{}, fmt.Errorf("insert notification: %w", err)
	}

	var n NotificationSchedule
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, event_id, event_timestamp, minutes_before, sent_at, created_at
		 FROM notification_schedules
		 WHERE session_id = ? AND event_id = ? AND minutes_before = ?`,
		sessionID, eventID, minutesBefore).
		Scan(&n.ID, &n.SessionID, &n.EventID, &n.EventTimestamp, &n.MinutesBefore, &sentAt, &n.CreatedAt)
	if err != nil {
		return NotificationSchedule{}, fmt.Errorf("get notification: %w", err)
	}
	normalizeNotification(&n, sentAt)
	return n, nil
}

// Notifications lists all schedules for a session, pending and sent.
func (s *Store) Notifications(ctx context.Context, sessionID string) ([]NotificationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_id, event_timestamp, minutes_before, sent_at, created_at
		 FROM notification_schedules WHERE session_id = ?
		 ORDER BY event_timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// RemoveNotification deletes a schedule owned by the session.
func (s *Store) RemoveNotification(ctx context.Context, sessionID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_schedules WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingNotifications returns all unsent schedules. The caller decides
// which are actually due (DueAt <= now); the table stays small enough
// that filtering in the process is fine.
func (s *Store) PendingNotifications(ctx context.Context) ([]NotificationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_id, event_timestamp, minutes_before, sent_at, created_at
		 FROM notification_schedules WHERE sent_at IS NULL
		 ORDER BY event_timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkNotificationSent stamps a schedule as delivered.
func (s *Store) MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_schedules SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		sentAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectNotifications(rows *sql.Rows) ([]NotificationSchedule, error) {
	var out []NotificationSchedule
	for rows.Next() {
		var n NotificationSchedule
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.SessionID, &n.EventID, &n.EventTimestamp,
			&n.MinutesBefore, &sentAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		normalizeNotification(&n, sentAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter notifications: %w", err)
	}
	return out, nil
}

func normalizeNotification(n *NotificationSchedule, sentAt sql.NullTime) {
	n.EventTimestamp = n.EventTimestamp.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		n.SentAt = &t
	}
}
