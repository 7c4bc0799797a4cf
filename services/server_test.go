package services

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/stretchr/testify/assert"
)

func TestCORSCredentials(t *testing.T) {
	tests := []struct {
		name            string
		origins         []string
		wantCredentials bool
	}{
		{"wildcard", []string{"*"}, false},
		{"wildcard among origins", []string{"https://app.morvo.ai", "*"}, false},
		{"explicit origins", []string{"https://app.morvo.ai"}, true},
		{"none configured", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCredentials, corsOptions(CORSConfig{AllowedOrigins: tt.origins}).AllowCredentials)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := chi.NewRouter()
	r.Use(cors.Handler(corsOptions(CORSConfig{AllowedOrigins: []string{"https://app.morvo.ai"}})))
	r.Post("/v1/chat/message", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/message", nil)
	req.Header.Set("Origin", "https://app.morvo.ai")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.morvo.ai", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/chat/message", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
