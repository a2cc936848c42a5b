// Package httpapi is the HTTP edge of the sync service: one authed
// sync endpoint plus health, JSON in and out.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/notesync/syncing-api/internal/auth"
	"github.com/notesync/syncing-api/internal/service/itemservice"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Items *itemservice.Service
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// apiError is the wire shape of a failed request.
type apiError struct {
	Error string `json:"error"`
}

// Routes creates the HTTP router
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Post("/v1/items/sync", s.SyncItems)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
