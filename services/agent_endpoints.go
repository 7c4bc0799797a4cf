package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
)

const agentTaskTimeout = 90 * time.Second

// AgentEndpoints exposes the agent registry over HTTP.
type AgentEndpoints struct {
	registry *agents.Registry
	auth     *AuthService
	cache    *agents.ResultCache
}

type AgentInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
}

type GetAgentsResponse struct {
	Agents []AgentInfo `json:"agents"`
	Count  int         `json:"count"`
}

type AgentTaskRequest struct {
	TaskType string                 `json:"task_type"`
	Payload  map[string]interface{} `json:"payload"`
	Context  map[string]interface{} `json:"context,omitempty"`
	ClientID string                 `json:"client_id,omitempty"`
}

func NewAgentEndpoints(registry *agents.Registry, auth *AuthService, cache *agents.ResultCache) *AgentEndpoints {
	return &AgentEndpoints{
		registry: registry,
		auth:     auth,
		cache:    cache,
	}
}

func (e *AgentEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", e.GetAgentsHandler)
		r.Get("/{name}", e.GetAgentHandler)

		if e.auth != nil {
			r.Group(func(r chi.Router) {
				r.Use(e.auth.Middleware)
				r.Use(RequireScope(models.ScopeAdmin))
				r.Post("/{name}/tasks", e.DispatchTaskHandler)
				r.Delete("/cache", e.ClearCacheHandler)
			})
		}
	})
}

func agentInfo(a agents.Agent) AgentInfo {
	status := "active"
	if !agents.IsAvailable(a) {
		status = "unavailable"
	}
	return AgentInfo{
		Name:         a.Name(),
		DisplayName:  a.DisplayName(),
		Type:         a.Type(),
		Status:       status,
		Capabilities: a.Capabilities(),
	}
}

func (e *AgentEndpoints) GetAgentsHandler(w http.ResponseWriter, r *http.Request) {
	list := e.registry.List()
	infos := make([]AgentInfo, 0, len(list))
	for _, a := range list {
		infos = append(infos, agentInfo(a))
	}
	writeJSON(w, http.StatusOK, GetAgentsResponse{Agents: infos, Count: len(infos)})
}

func (e *AgentEndpoints) GetAgentHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := e.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agentInfo(a))
}

// DispatchTaskHandler sends an A2A request to a single agent and returns
// its response verbatim.
func (e *AgentEndpoints) DispatchTaskHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := e.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if !agents.IsAvailable(a) {
		writeError(w, http.StatusServiceUnavailable, "Agent is not available")
		return
	}

	var req AgentTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusUnprocessableEntity, "task_type is required")
		return
	}

	a2a := agents.NewRequest(req.TaskType, req.ClientID, req.Payload)
	if req.Context != nil {
		a2a.Context = req.Context
	}

	ctx, cancel := context.WithTimeout(r.Context(), agentTaskTimeout)
	defer cancel()

	user, _ := UserFromContext(r.Context())
	slog.Info("Dispatching agent task", "agent", name, "task_type", req.TaskType, "correlation_id", a2a.CorrelationID, "user_id", user.ID)

	resp, err := e.registry.Dispatch(ctx, name, a2a)
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, agents.ErrUnsupportedTask):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, agents.ErrAgentUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"detail":   err.Error(),
		"response": resp,
	})
}

// ClearCacheHandler drops every cached research and backlink result.
func (e *AgentEndpoints) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	if err := e.cache.Clear(); err != nil {
		slog.Error("Failed to clear result cache", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}
	slog.Info("Result cache cleared")
	w.WriteHeader(http.StatusNoContent)
}
