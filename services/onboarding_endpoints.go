package services

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/tasks"
)

type OnboardingEndpoints struct {
	service *OnboardingService
}

func NewOnboardingEndpoints(service *OnboardingService) *OnboardingEndpoints {
	return &OnboardingEndpoints{service: service}
}

type SessionStepRequest struct {
	StepName string                 `json:"step_name"`
	StepData map[string]interface{} `json:"step_data"`
}

type OnboardingSessionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *OnboardingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/onboarding", func(r chi.Router) {
		r.Post("/start", e.StartHandler)
		r.Get("/status", e.StatusHandler)
		r.Post("/sessions", e.CreateSessionHandler)
		r.Post("/sessions/{id}/steps", e.SaveStepHandler)
		r.Post("/sessions/{id}/finalize", e.FinalizeHandler)
	})
}

func (e *OnboardingEndpoints) StartHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req OnboardingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := e.service.Start(r.Context(), user, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("Onboarding failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Error during onboarding")
	}
}

func (e *OnboardingEndpoints) StatusHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	status, err := e.service.Status(r.Context(), user)
	if err != nil {
		slog.Error("Failed to get onboarding status", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (e *OnboardingEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	session := e.service.CreateSession(user.ID)
	writeJSON(w, http.StatusCreated, OnboardingSessionResponse{
		SessionID: session.ID,
		Message:   "Onboarding session started successfully.",
		Timestamp: session.CreatedAt.UTC(),
	})
}

func (e *OnboardingEndpoints) SaveStepHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req SessionStepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "id")
	err := e.service.SaveStep(user.ID, sessionID, req.StepName, req.StepData)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, OnboardingSessionResponse{
			SessionID: sessionID,
			Status:    "step_saved",
			Message:   "Step '" + req.StepName + "' saved.",
			Timestamp: time.Now().UTC(),
		})
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Onboarding session not found or expired")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
	}
}

func (e *OnboardingEndpoints) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	sessionID := chi.URLParam(r, "id")
	taskID, err := e.service.Finalize(r.Context(), user, sessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, OnboardingSessionResponse{
			SessionID: sessionID,
			Status:    "enrichment_triggered",
			TaskID:    taskID,
			Message:   "Onboarding finalized. AI analysis is now running in the background.",
			Timestamp: time.Now().UTC(),
		})
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Onboarding session not found or expired")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "Analysis queue is busy, please try again later")
	default:
		slog.Error("Failed to finalize onboarding", "error", err, "session_id", sessionID, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
	}
}
