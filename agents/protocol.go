// Package agents implements the marketing consultant's agents and the
// agent-to-agent (A2A) envelope they exchange.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state carried by an A2A response.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task types understood by the agents.
const (
	TaskAnalyzeMessage = "analyze_message"
	TaskSynthesize     = "synthesize"
	TaskCoordinate     = "coordinate"
)

// Registry names of the built-in agents.
const (
	AgentMaster          = "master_agent"
	AgentCulturalContext = "cultural_context"
	AgentPerplexity      = "perplexity"
	AgentSERanking       = "seranking"
	AgentDataSynthesis   = "data_synthesis"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAgentUnavailable = errors.New("agent unavailable")
	ErrUnsupportedTask  = errors.New("unsupported task type")
)

// Request is the A2A message sent to an agent.
type Request struct {
	TaskType      string                 `json:"task_type"`
	Payload       map[string]interface{} `json:"payload"`
	Context       map[string]interface{} `json:"context,omitempty"`
	ClientID      string                 `json:"client_id,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}

// Response is the A2A reply returned by an agent.
type Response struct {
	Status        Status                 `json:"status"`
	Message       string                 `json:"message,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Finding       *Finding               `json:"finding,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}

// Finding is the structured output every specialist contributes to an analysis.
type Finding struct {
	Insights            []string               `json:"insights,omitempty"`
	Recommendations     []string               `json:"recommendations,omitempty"`
	CulturalAdaptations []string               `json:"cultural_adaptations,omitempty"`
	Opportunities       []string               `json:"opportunities,omitempty"`
	PainPoints          []string               `json:"pain_points,omitempty"`
	Sources             []string               `json:"sources,omitempty"`
	Data                map[string]interface{} `json:"data,omitempty"`
}

// Agent is implemented by every participant of the A2A protocol.
type Agent interface {
	Name() string
	DisplayName() string
	Type() string
	Capabilities() []string
	Handle(ctx context.Context, req Request) (Response, error)
}

// availability is implemented by agents that depend on external credentials.
type availability interface {
	Available() bool
}

// IsAvailable reports whether a can serve requests right now.
func IsAvailable(a Agent) bool {
	if av, ok := a.(availability); ok {
		return av.Available()
	}
	return true
}

// NewRequest builds a request with a fresh correlation ID.
func NewRequest(taskType, clientID string, payload map[string]interface{}) Request {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Request{
		TaskType:      taskType,
		Payload:       payload,
		Context:       map[string]interface{}{},
		ClientID:      clientID,
		CorrelationID: uuid.NewString(),
	}
}

// String returns a string payload value or "".
func (r Request) String(key string) string {
	if r.Payload == nil {
		return ""
	}
	if v, ok := r.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Complete builds a completed response correlated with r.
func (r Request) Complete(finding *Finding) Response {
	return Response{Status: StatusCompleted, Finding: finding, CorrelationID: r.CorrelationID}
}

// Fail builds a failed response correlated with r.
func (r Request) Fail(err error) Response {
	return Response{Status: StatusFailed, Message: err.Error(), CorrelationID: r.CorrelationID}
}

func unsupported(agent string, req Request) (Response, error) {
	err := fmt.Errorf("%w: %s cannot handle %q", ErrUnsupportedTask, agent, req.TaskType)
	return req.Fail(err), err
}
