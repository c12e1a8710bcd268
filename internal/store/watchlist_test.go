package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWatchlistCountriesPerSession(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, err := st.AddWatchlistCountry(ctx, "alice", "usa"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddWatchlistCountry(ctx, "alice", "DEU"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddWatchlistCountry(ctx, "bob", "JPN"); err != nil {
		t.Fatalf("add other session: %v", err)
	}

	// Re-adding is a no-op, not a failure.
	again, err := st.AddWatchlistCountry(ctx, "alice", "USA")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if again.CountryCode != "USA" {
		t.Errorf("expected normalized code USA, got %q", again.CountryCode)
	}

	items, err := st.WatchlistCountries(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 countries for alice, got %d", len(items))
	}

	other, err := st.WatchlistCountries(ctx, "bob")
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(other) != 1 || other[0].CountryCode != "JPN" {
		t.Fatalf("expected bob's list isolated, got %+v", other)
	}

	if err := st.RemoveWatchlistCountry(ctx, "alice", "usa"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := st.RemoveWatchlistCountry(ctx, "alice", "USA"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestWatchlistEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first, err := st.AddWatchlistEvent(ctx, "alice", "abc123")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	again, err := st.AddWatchlistEvent(ctx, "alice", "abc123")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if first.ID != again.ID {
		t.Errorf("expected duplicate add to return the same row, got %q vs %q", first.ID, again.ID)
	}

	if err := st.RemoveWatchlistEvent(ctx, "bob", "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other session, got %v", err)
	}
	if err := st.RemoveWatchlistEvent(ctx, "alice", "abc123"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	eventTime := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	n, err := st.AddNotification(ctx, "alice", "abc123", eventTime, 15)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got, want := n.DueAt(), eventTime.Add(-15*time.Minute); !got.Equal(want) {
		t.Errorf("due at %v, want %v", got, want)
	}

	// Duplicate (event, minutesBefore) returns the same schedule.
	again, err := st.AddNotification(ctx, "alice", "abc123", eventTime, 15)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if again.ID != n.ID {
		t.Errorf("expected same schedule id, got %q vs %q", again.ID, n.ID)
	}

	pending, err := st.PendingNotifications(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending schedule, got %d", len(pending))
	}

	sentAt := eventTime.Add(-15 * time.Minute)
	if err := st.MarkNotificationSent(ctx, n.ID, sentAt); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	// Second mark loses the race on purpose.
	if err := st.MarkNotificationSent(ctx, n.ID, sentAt); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double mark, got %v", err)
	}

	pending, err = st.PendingNotifications(ctx)
	if err != nil {
		t.Fatalf("pending after send: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending schedules, got %d", len(pending))
	}

	all, err := st.Notifications(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].SentAt == nil {
		t.Fatalf("expected one sent schedule in the list, got %+v", all)
	}
}
