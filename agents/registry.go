package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry holds the agents reachable over A2A, in registration order.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds a, replacing any agent already registered under its name.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; !exists {
		r.order = append(r.order, name)
	}
	r.agents[name] = a
	slog.Info("Agent registered", "agent", name, "type", a.Type())
}

func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// Dispatch delivers req to the named agent. A handler error is returned
// together with a failed response carrying the same correlation ID.
func (r *Registry) Dispatch(ctx context.Context, name string, req Request) (Response, error) {
	a, ok := r.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrAgentNotFound, name)
		return req.Fail(err), err
	}

	start := time.Now()
	resp, err := a.Handle(ctx, req)
	if resp.CorrelationID == "" {
		resp.CorrelationID = req.CorrelationID
	}
	if err != nil {
		if resp.Status != StatusFailed {
			resp = req.Fail(err)
		}
		slog.Warn("Agent task failed", "agent", name, "task_type", req.TaskType, "correlation_id", req.CorrelationID, "error", err)
		return resp, err
	}

	slog.Debug("Agent task completed", "agent", name, "task_type", req.TaskType, "correlation_id", req.CorrelationID, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}
