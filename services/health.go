package services

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/tasks"
)

const APIVersion = "1.0.0"

type Pinger interface {
	Ping(ctx context.Context) error
}

// SubscriptionChecker is implemented by the SE Ranking agent.
type SubscriptionChecker interface {
	Available() bool
	Subscription(ctx context.Context) (map[string]interface{}, error)
}

// HealthEndpoints reports the state of the service and its dependencies.
// Nil dependencies are reported as not configured.
type HealthEndpoints struct {
	Registry    *agents.Registry
	Connections func() int
	Database    Pinger
	Queue       *tasks.Queue
	Cache       *agents.ResultCache
	SERanking   SubscriptionChecker
	Environment string
	LLMModel    string
}

type AgentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

type HealthResponse struct {
	Status               string            `json:"status"`
	Version              string            `json:"version"`
	Environment          string            `json:"environment"`
	Agents               []AgentStatus     `json:"agents"`
	WebsocketConnections int               `json:"websocket_connections"`
	ProtocolsEnhanced    bool              `json:"protocols_enhanced"`
	DatabaseConnected    bool              `json:"database_connected"`
	Services             map[string]string `json:"services"`
	Timestamp            time.Time         `json:"timestamp"`
}

type DiagnosticCheck struct {
	Status    string                 `json:"status"`
	LatencyMS int64                  `json:"latency_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type DiagnosticsResponse struct {
	OverallStatus string                     `json:"overall_status"`
	Checks        map[string]DiagnosticCheck `json:"checks"`
	Timestamp     time.Time                  `json:"timestamp"`
}

func (e *HealthEndpoints) RegisterRoutes(r chi.Router) {
	r.Get("/health", e.HealthHandler)
	r.Get("/diagnostics", e.DiagnosticsHandler)
}

func (e *HealthEndpoints) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Morvo AI Marketing Consultant API",
		"version": APIVersion,
		"health":  "/v1/health",
	})
}

func (e *HealthEndpoints) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:            "ok",
		Version:           APIVersion,
		Environment:       e.Environment,
		Agents:            e.agentStatuses(),
		ProtocolsEnhanced: true,
		Services:          map[string]string{},
		Timestamp:         time.Now().UTC(),
	}
	if e.Connections != nil {
		resp.WebsocketConnections = e.Connections()
	}

	switch db := e.databaseCheck(ctx); db.Status {
	case "connected":
		resp.DatabaseConnected = true
		resp.Services["database"] = "connected"
	case "not_configured":
		resp.Services["database"] = "not_configured"
	default:
		resp.Status = "degraded"
		resp.Services["database"] = "disconnected"
	}
	resp.Services["llm"] = e.llmCheck().Status
	resp.Services["websocket"] = "active"
	if e.Queue != nil {
		resp.Services["task_queue"] = "running"
	} else {
		resp.Services["task_queue"] = "not_configured"
	}

	slog.Debug("Health check", "status", resp.Status, "database_connected", resp.DatabaseConnected)
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoints) DiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]DiagnosticCheck{
		"database": e.databaseCheck(ctx),
		"llm":      e.llmCheck(),
		"agents":   e.agentsCheck(),
	}
	if e.Queue != nil {
		stats := e.Queue.Stats()
		checks["task_queue"] = DiagnosticCheck{Status: "running", Details: map[string]interface{}{
			"queued":    stats.Queued,
			"running":   stats.Running,
			"retrying":  stats.Retrying,
			"completed": stats.Completed,
			"failed":    stats.Failed,
			"retried":   stats.Retried,
			"tasks":     stats.Tasks,
		}}
	}

	if e.Cache != nil {
		checks["cache"] = e.cacheCheck()
	}
	if e.SERanking != nil {
		checks["seranking"] = e.serankingCheck(ctx)
	}

	overall := "healthy"
	for _, c := range checks {
		if c.Status == "error" || c.Status == "disconnected" || c.Status == "degraded" {
			overall = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, DiagnosticsResponse{
		OverallStatus: overall,
		Checks:        checks,
		Timestamp:     time.Now().UTC(),
	})
}

func (e *HealthEndpoints) agentStatuses() []AgentStatus {
	statuses := []AgentStatus{}
	if e.Registry == nil {
		return statuses
	}
	for _, a := range e.Registry.List() {
		status := "active"
		if !agents.IsAvailable(a) {
			status = "unavailable"
		}
		statuses = append(statuses, AgentStatus{Name: a.Name(), Status: status, Type: a.Type()})
	}
	return statuses
}

func (e *HealthEndpoints) databaseCheck(ctx context.Context) DiagnosticCheck {
	if e.Database == nil {
		return DiagnosticCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := e.Database.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return DiagnosticCheck{Status: "disconnected", LatencyMS: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return DiagnosticCheck{Status: "connected", LatencyMS: time.Since(start).Milliseconds()}
}

func (e *HealthEndpoints) llmCheck() DiagnosticCheck {
	if e.LLMModel == "" {
		return DiagnosticCheck{Status: "not_configured"}
	}
	return DiagnosticCheck{Status: "configured", Details: map[string]interface{}{"model": e.LLMModel}}
}

func (e *HealthEndpoints) cacheCheck() DiagnosticCheck {
	entries, size, err := e.Cache.Stats()
	if err != nil {
		return DiagnosticCheck{Status: "error", Error: err.Error()}
	}
	return DiagnosticCheck{Status: "ok", Details: map[string]interface{}{
		"entries":    entries,
		"size_bytes": size,
	}}
}

func (e *HealthEndpoints) serankingCheck(ctx context.Context) DiagnosticCheck {
	if !e.SERanking.Available() {
		return DiagnosticCheck{Status: "not_configured"}
	}
	start := time.Now()
	sub, err := e.SERanking.Subscription(ctx)
	if err != nil {
		slog.Warn("SE Ranking subscription check failed", "error", err)
		return DiagnosticCheck{Status: "error", LatencyMS: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return DiagnosticCheck{Status: "connected", LatencyMS: time.Since(start).Milliseconds(), Details: map[string]interface{}{
		"subscription": sub,
	}}
}

func (e *HealthEndpoints) agentsCheck() DiagnosticCheck {
	statuses := e.agentStatuses()
	available := 0
	for _, s := range statuses {
		if s.Status == "active" {
			available++
		}
	}
	status := "healthy"
	if available < len(statuses) {
		status = "degraded"
	}
	return DiagnosticCheck{Status: status, Details: map[string]interface{}{
		"available": available,
		"total":     len(statuses),
		"agents":    statuses,
	}}
}
