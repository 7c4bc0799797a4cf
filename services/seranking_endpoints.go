package services

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/tasks"
)

type SERankingEndpoints struct {
	service *SERankingService
}

func NewSERankingEndpoints(service *SERankingService) *SERankingEndpoints {
	return &SERankingEndpoints{service: service}
}

func (e *SERankingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/seranking", func(r chi.Router) {
		r.Post("/analyze/{domain}", e.AnalyzeHandler)
		r.Get("/domains/{domain}/history", e.HistoryHandler)
	})
}

func (e *SERankingEndpoints) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	queued, err := e.service.QueueAnalysis(r.Context(), user.ID, chi.URLParam(r, "domain"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, queued)
	case errors.Is(err, ErrInvalidDomain):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSERankingDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "Analysis queue is busy, please try again later")
	default:
		slog.Error("Failed to queue SE Ranking analysis", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
	}
}

func (e *SERankingEndpoints) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	history, err := e.service.History(r.Context(), user.ID, chi.URLParam(r, "domain"))
	switch {
	case errors.Is(err, ErrInvalidDomain):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		slog.Error("Failed to get domain history", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
	case history == nil:
		writeError(w, http.StatusNotFound, "Domain is not tracked")
	default:
		writeJSON(w, http.StatusOK, history)
	}
}
