package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAgent answers analyze_message with a fixed finding or error.
type stubAgent struct {
	name      string
	finding   *Finding
	err       error
	available *bool
	block     bool
}

func (s *stubAgent) Name() string           { return s.name }
func (s *stubAgent) DisplayName() string    { return "Stub " + s.name }
func (s *stubAgent) Type() string           { return "stub" }
func (s *stubAgent) Capabilities() []string { return []string{"testing"} }

func (s *stubAgent) Available() bool {
	return s.available == nil || *s.available
}

func (s *stubAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if s.block {
		<-ctx.Done()
		return req.Fail(ctx.Err()), ctx.Err()
	}
	if s.err != nil {
		return Response{}, s.err
	}
	return req.Complete(s.finding), nil
}

func TestRegistryRegisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAgent{name: "a"})
	r.Register(&stubAgent{name: "b"})
	replacement := &stubAgent{name: "a", finding: &Finding{Insights: []string{"new"}}}
	r.Register(replacement)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name())
	assert.Equal(t, "b", list[1].Name())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAgent{name: "ok", finding: &Finding{Insights: []string{"insight"}}})
	r.Register(&stubAgent{name: "broken", err: errors.New("boom")})

	t.Run("completed", func(t *testing.T) {
		req := NewRequest(TaskAnalyzeMessage, "client", nil)
		resp, err := r.Dispatch(context.Background(), "ok", req)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, resp.Status)
		assert.Equal(t, req.CorrelationID, resp.CorrelationID)
		assert.Equal(t, []string{"insight"}, resp.Finding.Insights)
	})

	t.Run("handler error becomes failed response", func(t *testing.T) {
		req := NewRequest(TaskAnalyzeMessage, "client", nil)
		resp, err := r.Dispatch(context.Background(), "broken", req)
		assert.EqualError(t, err, "boom")
		assert.Equal(t, StatusFailed, resp.Status)
		assert.Equal(t, "boom", resp.Message)
		assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	})

	t.Run("unknown agent", func(t *testing.T) {
		req := NewRequest(TaskAnalyzeMessage, "client", nil)
		resp, err := r.Dispatch(context.Background(), "missing", req)
		assert.ErrorIs(t, err, ErrAgentNotFound)
		assert.Equal(t, StatusFailed, resp.Status)
	})
}

func TestIsAvailable(t *testing.T) {
	off := false
	assert.True(t, IsAvailable(&stubAgent{name: "on"}))
	assert.False(t, IsAvailable(&stubAgent{name: "off", available: &off}))
	assert.True(t, IsAvailable(NewCulturalContextAgent()))
}

func TestRequestHelpers(t *testing.T) {
	req := NewRequest(TaskAnalyzeMessage, "client", map[string]interface{}{"message": "hi", "count": 3})
	assert.NotEmpty(t, req.CorrelationID)
	assert.Equal(t, "hi", req.String("message"))
	assert.Equal(t, "", req.String("count"))
	assert.Equal(t, "", Request{}.String("message"))

	_, err := unsupported("x", req)
	assert.ErrorIs(t, err, ErrUnsupportedTask)
}
