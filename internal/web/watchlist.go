package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appLog "macrocal/internal/log"
	"macrocal/internal/store"
)

func (s *Server) handleWatchlistCountries(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.WatchlistCountries(r.Context(), sessionID(r))
	if err != nil {
		appLog.Error("watchlist countries list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list watchlist countries")
		return
	}
	if items == nil {
		items = []store.WatchlistCountry{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWatchlistCountryAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CountryCode == "" {
		writeError(w, http.StatusBadRequest, "countryCode is required")
		return
	}

	item, err := s.store.AddWatchlistCountry(r.Context(), sessionID(r), body.CountryCode)
	if err != nil {
		appLog.Error("watchlist country add failed", err, "country", body.CountryCode)
		writeError(w, http.StatusInternalServerError, "failed to add watchlist country")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleWatchlistCountryRemove(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	err := s.store.RemoveWatchlistCountry(r.Context(), sessionID(r), code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "country not in watchlist")
	case err != nil:
		appLog.Error("watchlist country remove failed", err, "country", code)
		writeError(w, http.StatusInternalServerError, "failed to remove watchlist country")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleWatchlistEvents(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.WatchlistEvents(r.Context(), sessionID(r))
	if err != nil {
		appLog.Error("watchlist events list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list watchlist events")
		return
	}
	if items == nil {
		items = []store.WatchlistEvent{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWatchlistEventAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID string `json:"eventId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.EventID == "" {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	item, err := s.store.AddWatchlistEvent(r.Context(), sessionID(r), body.EventID)
	if err != nil {
		appLog.Error("watchlist event add failed", err, "event", body.EventID)
		writeError(w, http.StatusInternalServerError, "failed to add watchlist event")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleWatchlistEventRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.RemoveWatchlistEvent(r.Context(), sessionID(r), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not in watchlist")
	case err != nil:
		appLog.Error("watchlist event remove failed", err, "event", id)
		writeError(w, http.StatusInternalServerError, "failed to remove watchlist event")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Notifications(r.Context(), sessionID(r))
	if err != nil {
		appLog.Error("notifications list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []store.NotificationSchedule{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleNotificationAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID        string    `json:"eventId"`
		EventTimestamp time.Time `json:"eventTimestamp"`
		MinutesBefore  int       `json:"minutesBefore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.EventID == "" {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}
	if body.EventTimestamp.IsZero() {
		writeError(w, http.StatusBadRequest, "eventTimestamp is required")
		return
	}
	if body.MinutesBefore < 0 {
		writeError(w, http.StatusBadRequest, "minutesBefore must not be negative")
		return
	}

	item, err := s.store.AddNotification(r.Context(), sessionID(r),
		body.EventID, body.EventTimestamp, body.MinutesBefore)
	if err != nil {
		appLog.Error("notification add failed", err, "event", body.EventID)
		writeError(w, http.StatusInternalServerError, "failed to add notification")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleNotificationRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.RemoveNotification(r.Context(), sessionID(r), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		appLog.Error("notification remove failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to remove notification")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
