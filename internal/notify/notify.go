// Package notify runs the minute tick that fires due event reminders.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	appLog "macrocal/internal/log"
	"macrocal/internal/store"
)

// Checker scans pending reminder schedules once a minute and marks the
// due ones as sent. Delivery is a structured log line; clients poll
// their schedule list and surface anything stamped sent.
type Checker struct {
	store *store.Store
}

func NewChecker(st *store.Store) *Checker {
	return &Checker{store: st}
}

// Schedule registers the minute tick on an existing cron runner.
func (c *Checker) Schedule(runner *cron.Cron) error {
	_, err := runner.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.Tick(ctx, time.Now().UTC())
	})
	return err
}

// Tick fires every schedule whose due instant has passed. Reminders for
// events already in the past still fire once rather than lingering
// unsent forever.
func (c *Checker) Tick(ctx context.Context, now time.Time) {
	pending, err := c.store.PendingNotifications(ctx)
	if err != nil {
		appLog.Error("notification scan failed", err)
		return
	}

	for _, n := range pending {
		if n.DueAt().After(now) {
			continue
		}
		if err := c.store.MarkNotificationSent(ctx, n.ID, now); err != nil {
			// Lost the race with a concurrent tick; the other one fired it.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			appLog.Error("notification mark failed", err, "id", n.ID)
			continue
		}
		appLog.Info("notification due",
			"id", n.ID, "session", n.SessionID, "event", n.EventID,
			"eventTime", n.EventTimestamp.Format(time.RFC3339),
			"minutesBefore", n.MinutesBefore)
	}
}
