// Package handlers provides the HTTP surface for job submission,
// polling, listing, and cancellation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/jobs"
)

// Handler handles job HTTP requests
type Handler struct {
	service *jobs.Service
	log     zerolog.Logger
}

// NewHandler creates a new jobs handler
func NewHandler(service *jobs.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "jobs").Logger(),
	}
}

// RegisterRoutes registers all job routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)
		r.Get("/{jobID}", h.HandleStatus)
		r.Delete("/{jobID}", h.HandleCancel)
	})
}

// HandleSubmit handles POST /jobs
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub jobs.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record, err := h.service.Submit(sub)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":      record.ID,
		"status":      record.State,
		"fingerprint": record.Fingerprint,
	})
}

// HandleStatus handles GET /jobs/{jobID}
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	record, err := h.service.Status(id)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("Failed to load job")
		h.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// HandleList handles GET /jobs
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.service.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if records == nil {
		records = []*jobs.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": records})
}

// HandleCancel handles DELETE /jobs/{jobID}. Only queued jobs can be
// cancelled; anything else is a conflict.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	record, cancelled, err := h.service.Cancel(id)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("Failed to cancel job")
		h.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !cancelled {
		h.writeError(w, http.StatusConflict, "job is no longer queued")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrQueueFull) {
		h.writeError(w, http.StatusServiceUnavailable, "the job queue is full, retry later")
		return
	}
	switch domain.KindOf(err) {
	case domain.KindInputInvalid:
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]string{
				"kind":    string(domain.KindInputInvalid),
				"message": domain.UserMessage(err),
			},
		})
	default:
		h.log.Error().Err(err).Msg("Job submission failed")
		h.writeError(w, http.StatusInternalServerError, domain.UserMessage(err))
	}
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
