package web

import (
	"context"
	"net/http"
	"time"

	appLog "macrocal/internal/log"
)

// refreshContext bounds a background sweep launched from the API.
func refreshContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Minute)
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(r.Context())
	if err != nil {
		appLog.Error("cache status failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read cache status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCacheRefresh kicks off a full sweep in the background and
// returns immediately: a sweep takes minutes and holding the request
// open that long only invites client timeouts. If a refresh is already
// running the request is re-queued by the coordinator, never stacked.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := refreshContext()
		defer cancel()
		if err := s.coord.RefreshAll(ctx); err != nil {
			appLog.Error("requested refresh failed", err)
		}
	}()

	type resp struct {
		Status string `json:"status"`
	}
	writeJSON(w, http.StatusAccepted, resp{Status: "refresh started"})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearEvents(r.Context()); err != nil {
		appLog.Error("cache clear failed", err)
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	appLog.Info("events cache cleared by request")

	type resp struct {
		Status string `json:"status"`
	}
	writeJSON(w, http.StatusOK, resp{Status: "cache cleared"})
}
