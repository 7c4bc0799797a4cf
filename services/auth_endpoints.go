package services

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AuthEndpoints struct {
	authService *AuthService
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func NewAuthEndpoints(authService *AuthService) *AuthEndpoints {
	return &AuthEndpoints{
		authService: authService,
	}
}

func (e *AuthEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", e.RegisterHandler)
		r.Post("/token", e.TokenHandler)
		r.Post("/login/access-token", e.TokenHandler)
		r.Post("/refresh-token", e.RefreshHandler)

		r.Group(func(r chi.Router) {
			r.Use(e.authService.Middleware)
			r.Get("/users/me", e.MeHandler)
			r.Post("/logout", e.LogoutHandler)
		})
	})
}

func (e *AuthEndpoints) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := e.authService.Register(r.Context(), req)
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusBadRequest, "The user with this email already exists in the system.")
		return
	case err != nil:
		slog.Error("Registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// TokenHandler implements the OAuth2 password flow: a form with username
// (the email) and password.
func (e *AuthEndpoints) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	tokens, err := e.authService.Login(r.Context(), username, password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	case errors.Is(err, ErrInactiveUser):
		writeError(w, http.StatusBadRequest, "Inactive user")
		return
	case err != nil:
		slog.Error("Login failed", "error", err)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}

	e.authService.SetAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, tokens)
}

func (e *AuthEndpoints) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken = cookieValue(r, "refresh_token")
	}

	tokens, err := e.authService.Refresh(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	case errors.Is(err, ErrInactiveUser):
		writeError(w, http.StatusBadRequest, "Inactive user")
		return
	case err != nil:
		slog.Error("Token refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}

	e.authService.SetAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, tokens)
}

func (e *AuthEndpoints) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := e.authService.Logout(r.Context(), user.ID, cookieValue(r, "refresh_token")); err != nil {
		slog.Error("Logout failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	e.authService.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (e *AuthEndpoints) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
