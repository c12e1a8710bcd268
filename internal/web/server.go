// Package web exposes the cached calendar over HTTP: range queries,
// exports, cache administration and the per-session watchlist.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"macrocal/internal/config"
	appLog "macrocal/internal/log"
	"macrocal/internal/refresh"
	"macrocal/internal/store"
)

// sessionHeader carries the caller's watchlist scope. Clients that send
// nothing share the default scope.
const (
	sessionHeader  = "X-Session-Id"
	defaultSession = "default"
)

// Server wires the HTTP API to the store and the refresh coordinator.
type Server struct {
	cfg   *config.Config
	store *store.Store
	coord *refresh.Coordinator
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, coord *refresh.Coordinator) *Server {
	return &Server{cfg: cfg, store: st, coord: coord}
}

// Handler builds the routed handler, including basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/events.ics", s.handleEventsICS)
		r.Get("/events.csv", s.handleEventsCSV)

		r.Get("/cache/status", s.handleCacheStatus)
		r.Post("/cache/refresh", s.handleCacheRefresh)
		r.Delete("/cache", s.handleCacheClear)

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/countries", s.handleWatchlistCountries)
			r.Post("/countries", s.handleWatchlistCountryAdd)
			r.Delete("/countries/{code}", s.handleWatchlistCountryRemove)

			r.Get("/events", s.handleWatchlistEvents)
			r.Post("/events", s.handleWatchlistEventAdd)
			r.Delete("/events/{id}", s.handleWatchlistEventRemove)
		})

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications", s.handleNotificationAdd)
		r.Delete("/notifications/{id}", s.handleNotificationRemove)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable for probes without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="MacroCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// sessionID extracts the watchlist scope from the request.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	return defaultSession
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
