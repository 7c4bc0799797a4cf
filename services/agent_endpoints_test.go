package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAgent struct {
	name      string
	available bool
	err       error
}

func (a *echoAgent) Name() string           { return a.name }
func (a *echoAgent) DisplayName() string    { return "Echo" }
func (a *echoAgent) Type() string           { return "echo" }
func (a *echoAgent) Capabilities() []string { return []string{"echo"} }
func (a *echoAgent) Available() bool        { return a.available }

func (a *echoAgent) Handle(ctx context.Context, req agents.Request) (agents.Response, error) {
	if a.err != nil {
		return req.Fail(a.err), a.err
	}
	return req.Complete(&agents.Finding{Insights: []string{req.String("text")}}), nil
}

func TestAgentEndpoints(t *testing.T) {
	store := newMemStore()
	createUser(t, store, "admin@example.com", true)
	createUser(t, store, "member@example.com", false)
	auth := NewAuthService(store, testJWTConfig(), false)

	registry := agents.NewRegistry()
	registry.Register(&echoAgent{name: "echo", available: true})
	registry.Register(&echoAgent{name: "offline"})
	registry.Register(&echoAgent{name: "picky", available: true, err: errors.New("nope")})

	cache := agents.NewResultCache(t.TempDir(), time.Hour)
	require.NoError(t, cache.Set(context.Background(), "perplexity:research", "coffee", map[string]string{"a": "b"}))

	r := chi.NewRouter()
	NewAgentEndpoints(registry, auth, cache).RegisterRoutes(r)

	token := func(email string) string {
		tokens, err := auth.Login(context.Background(), email, "s3cret-pass")
		require.NoError(t, err)
		return tokens.AccessToken
	}
	admin, member := token("admin@example.com"), token("member@example.com")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list GetAgentsResponse
	decodeBody(t, rec, &list)
	require.Equal(t, 3, list.Count)
	assert.Equal(t, "active", list.Agents[0].Status)
	assert.Equal(t, "unavailable", list.Agents[1].Status)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
	}{
		{"get agent", http.MethodGet, "/agents/echo", "", "", http.StatusOK},
		{"unknown agent", http.MethodGet, "/agents/ghost", "", "", http.StatusNotFound},
		{"dispatch anonymous", http.MethodPost, "/agents/echo/tasks", "", `{"task_type":"analyze_message"}`, http.StatusUnauthorized},
		{"dispatch without admin scope", http.MethodPost, "/agents/echo/tasks", member, `{"task_type":"analyze_message"}`, http.StatusForbidden},
		{"dispatch", http.MethodPost, "/agents/echo/tasks", admin, `{"task_type":"analyze_message","payload":{"text":"hi"}}`, http.StatusOK},
		{"missing task type", http.MethodPost, "/agents/echo/tasks", admin, `{}`, http.StatusUnprocessableEntity},
		{"unavailable agent", http.MethodPost, "/agents/offline/tasks", admin, `{"task_type":"x"}`, http.StatusServiceUnavailable},
		{"dispatch unknown agent", http.MethodPost, "/agents/ghost/tasks", admin, `{"task_type":"x"}`, http.StatusNotFound},
		{"agent failure", http.MethodPost, "/agents/picky/tasks", admin, `{"task_type":"x"}`, http.StatusBadGateway},
		{"clear cache without admin scope", http.MethodDelete, "/agents/cache", member, "", http.StatusForbidden},
		{"clear cache", http.MethodDelete, "/agents/cache", admin, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestClearCacheEmptiesResults(t *testing.T) {
	cache := agents.NewResultCache(t.TempDir(), time.Hour)
	require.NoError(t, cache.Set(context.Background(), "seranking:backlinks", "qahwa.sa", map[string]int{"backlinks": 3}))
	e := NewAgentEndpoints(agents.NewRegistry(), nil, cache)

	rec := httptest.NewRecorder()
	e.ClearCacheHandler(rec, httptest.NewRequest(http.MethodDelete, "/agents/cache", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	entries, _, err := cache.Stats()
	require.NoError(t, err)
	assert.Zero(t, entries)
}
