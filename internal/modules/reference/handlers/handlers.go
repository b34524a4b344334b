// Package handlers provides HTTP handlers for the reference admin surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// Handler handles reference HTTP requests
type Handler struct {
	store *reference.Store
	log   zerolog.Logger
}

// NewHandler creates a new reference handler
func NewHandler(store *reference.Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "reference").Logger(),
	}
}

// RegisterRoutes registers all reference routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reference", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/refresh", h.HandleRefresh)
	})
}

// HandleStatus handles GET /reference/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Status())
}

// HandleRefresh handles POST /reference/refresh, forcing a snapshot reload.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Refresh(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Forced reference refresh failed")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": true,
		"loaded_at": snap.LoadedAt,
		"banks":     len(snap.Banks),
		"habitats":  len(snap.Habitats),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
