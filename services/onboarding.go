package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/morvo-ai/morvo/backend/tasks"
)

const (
	TaskEnrichProfile = "onboarding.enrich_profile"

	onboardingSessionTTL = 24 * time.Hour
)

var ErrSessionNotFound = errors.New("onboarding session not found")

var defaultOnboardingRecommendations = []string{
	"Set up your business profile completely",
	"Connect your social media accounts",
	"Define your target audience",
	"Set your marketing goals",
}

// ProfileStore persists users and their business profiles.
type ProfileStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	GetBusinessProfile(ctx context.Context, userID string) (*models.BusinessProfile, error)
	SaveBusinessProfile(ctx context.Context, profile *models.BusinessProfile) error
}

type WebsiteSynthesizer interface {
	SynthesizeWebsite(ctx context.Context, websiteURL string) (*agents.WebsiteSynthesis, error)
}

type OnboardingRequest struct {
	BusinessName    string   `json:"business_name"`
	Industry        string   `json:"industry"`
	Website         string   `json:"website,omitempty"`
	TargetMarket    string   `json:"target_market"`
	MarketingGoals  []string `json:"marketing_goals"`
	CurrentChannels []string `json:"current_channels"`
}

func (r *OnboardingRequest) Validate() error {
	r.BusinessName = strings.TrimSpace(r.BusinessName)
	r.Industry = strings.TrimSpace(r.Industry)
	r.TargetMarket = strings.TrimSpace(r.TargetMarket)
	r.Website = strings.TrimSpace(r.Website)
	switch {
	case r.BusinessName == "":
		return fmt.Errorf("%w: business_name is required", ErrValidation)
	case r.Industry == "":
		return fmt.Errorf("%w: industry is required", ErrValidation)
	case r.TargetMarket == "":
		return fmt.Errorf("%w: target_market is required", ErrValidation)
	case len(r.MarketingGoals) == 0:
		return fmt.Errorf("%w: marketing_goals must not be empty", ErrValidation)
	}
	return nil
}

type OnboardingResponse struct {
	Message            string   `json:"message"`
	Recommendations    []string `json:"recommendations"`
	NextSteps          []string `json:"next_steps"`
	OnboardingComplete bool     `json:"onboarding_complete"`
}

type OnboardingStatus struct {
	UserID                string `json:"user_id"`
	OnboardingStarted     bool   `json:"onboarding_started"`
	OnboardingComplete    bool   `json:"onboarding_complete"`
	OnboardingStage       string `json:"onboarding_stage"`
	BusinessProfileExists bool   `json:"business_profile_exists"`
	Message               string `json:"message"`
}

// OnboardingSession collects the steps of a multi-step onboarding until it
// is finalized.
type OnboardingSession struct {
	ID        string                            `json:"session_id"`
	UserID    string                            `json:"user_id"`
	Steps     map[string]map[string]interface{} `json:"steps"`
	Data      map[string]interface{}            `json:"data"`
	CreatedAt time.Time                         `json:"created_at"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

type enrichProfilePayload struct {
	UserID  string `json:"user_id"`
	Website string `json:"website"`
}

type OnboardingService struct {
	store       ProfileStore
	coordinator Coordinator
	synthesizer WebsiteSynthesizer
	queue       TaskQueue
	maxRetries  int
	retryDelay  time.Duration

	sessions map[string]*OnboardingSession
	mu       sync.Mutex
	now      func() time.Time
}

// NewOnboardingService registers the enrichment task handler on queue.
func NewOnboardingService(store ProfileStore, coordinator Coordinator, synthesizer WebsiteSynthesizer, queue TaskQueue, cfg TasksConfig) *OnboardingService {
	s := &OnboardingService{
		store:       store,
		coordinator: coordinator,
		synthesizer: synthesizer,
		queue:       queue,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		sessions:    make(map[string]*OnboardingSession),
		now:         time.Now,
	}
	queue.Register(TaskEnrichProfile, s.handleEnrichProfile)
	return s
}

// Start records the business and asks the agent team for first
// recommendations.
func (s *OnboardingService) Start(ctx context.Context, user *models.User, req OnboardingRequest) (*OnboardingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	profile, err := s.store.GetBusinessProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &models.BusinessProfile{UserID: user.ID}
	}
	profile.Name = req.BusinessName
	profile.Industry = req.Industry
	profile.Website = req.Website
	profile.TargetAudience = models.JSON([]string{req.TargetMarket})
	profile.MarketingGoals = models.JSON(req.MarketingGoals)
	profile.CurrentChannels = models.JSON(nonNil(req.CurrentChannels))
	if err := s.store.SaveBusinessProfile(ctx, profile); err != nil {
		return nil, err
	}
	if user.OnboardingStage == "" || user.OnboardingStage == models.OnboardingStagePersonal {
		user.OnboardingStage = models.OnboardingStageBusiness
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return nil, err
		}
	}

	message := fmt.Sprintf("New business onboarding: %s in the %s industry targeting %s. Marketing goals: %s.",
		req.BusinessName, req.Industry, req.TargetMarket, strings.Join(req.MarketingGoals, ", "))
	if req.Website != "" {
		message += " Website: " + req.Website
	}
	analysis, err := s.coordinator.Coordinate(ctx, agents.AnalysisRequest{
		Message:  message,
		ClientID: user.ID,
		Language: "en",
		Context: map[string]interface{}{
			"user_id":       user.ID,
			"stage":         "onboarding",
			"business_info": req,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze business: %w", err)
	}

	recommendations := analysis.Coordinated.RecommendedActions
	if len(recommendations) == 0 {
		recommendations = defaultOnboardingRecommendations
	}
	slog.Info("Onboarding started", "user_id", user.ID, "business", req.BusinessName, "recommendations", len(recommendations))
	return &OnboardingResponse{
		Message:            "Welcome to Morvo AI! Let's get your marketing strategy set up.",
		Recommendations:    recommendations,
		NextSteps:          []string{"Complete business profile", "Connect analytics", "Review suggestions"},
		OnboardingComplete: false,
	}, nil
}

func (s *OnboardingService) Status(ctx context.Context, user *models.User) (*OnboardingStatus, error) {
	profile, err := s.store.GetBusinessProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	status := &OnboardingStatus{
		UserID:                user.ID,
		OnboardingStarted:     profile != nil || (user.OnboardingStage != "" && user.OnboardingStage != models.OnboardingStagePersonal),
		OnboardingComplete:    user.IsOnboardingComplete(),
		OnboardingStage:       user.OnboardingStage,
		BusinessProfileExists: profile != nil,
		Message:               "Onboarding system ready",
	}
	if status.OnboardingComplete {
		status.Message = "Onboarding complete"
	}
	return status, nil
}

// CreateSession opens a multi-step onboarding session for userID.
func (s *OnboardingService) CreateSession(userID string) *OnboardingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	now := s.now()
	session := &OnboardingSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Steps:     make(map[string]map[string]interface{}),
		Data:      make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[session.ID] = session
	slog.Info("Onboarding session created", "session_id", session.ID, "user_id", userID)
	return session
}

// SaveStep merges step data into the session. Later steps overwrite keys of
// earlier ones.
func (s *OnboardingService) SaveStep(userID, sessionID, stepName string, data map[string]interface{}) error {
	stepName = strings.TrimSpace(stepName)
	if stepName == "" {
		return fmt.Errorf("%w: step_name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return ErrSessionNotFound
	}
	session.Steps[stepName] = data
	for k, v := range data {
		session.Data[k] = v
	}
	session.UpdatedAt = s.now()
	slog.Info("Onboarding session updated", "session_id", sessionID, "step", stepName)
	return nil
}

// Finalize turns the session into the business profile and queues its
// enrichment. The session is removed once the enrichment is queued.
func (s *OnboardingService) Finalize(ctx context.Context, user *models.User, sessionID string) (string, error) {
	s.mu.Lock()
	s.expireLocked()
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != user.ID {
		s.mu.Unlock()
		return "", ErrSessionNotFound
	}
	data := make(map[string]interface{}, len(session.Data))
	for k, v := range session.Data {
		data[k] = v
	}
	s.mu.Unlock()

	profile, err := s.store.GetBusinessProfile(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if profile == nil {
		profile = &models.BusinessProfile{UserID: user.ID}
	}
	applySessionData(profile, data)
	if profile.Name == "" {
		return "", fmt.Errorf("%w: business_name is required", ErrValidation)
	}
	if err := s.store.SaveBusinessProfile(ctx, profile); err != nil {
		return "", err
	}

	user.OnboardingStage = models.OnboardingStageAnalysis
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return "", err
	}

	taskID, err := s.queue.Enqueue(TaskEnrichProfile, enrichProfilePayload{
		UserID:  user.ID,
		Website: profile.Website,
	}, tasks.Options{MaxRetries: s.maxRetries, RetryDelay: s.retryDelay})
	if err != nil {
		return "", fmt.Errorf("failed to queue enrichment: %w", err)
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	slog.Info("Onboarding finalized", "session_id", sessionID, "user_id", user.ID, "task_id", taskID)
	return taskID, nil
}

func (s *OnboardingService) expireLocked() {
	cutoff := s.now().Add(-onboardingSessionTTL)
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			slog.Info("Onboarding session expired", "session_id", id)
		}
	}
}

// handleEnrichProfile analyses the business website and completes the
// user's onboarding. When every attempt fails onboarding is still
// completed, without enrichment.
func (s *OnboardingService) handleEnrichProfile(ctx context.Context, task *tasks.Task) error {
	var p enrichProfilePayload
	if err := task.Decode(&p); err != nil {
		return err
	}

	var synthesis *agents.WebsiteSynthesis
	var synthErr error
	if p.Website != "" && s.synthesizer != nil {
		synthesis, synthErr = s.synthesizer.SynthesizeWebsite(ctx, p.Website)
		if synthErr != nil && !task.LastAttempt() {
			return synthErr
		}
	}

	profile, err := s.store.GetBusinessProfile(ctx, p.UserID)
	if err != nil {
		return err
	}
	if profile != nil {
		if synthesis != nil {
			now := s.now().UTC()
			profile.EnrichmentData = models.JSON(synthesis)
			profile.Opportunities = models.JSON(nonNil(synthesis.Opportunities))
			profile.PainPoints = models.JSON(nonNil(synthesis.PainPoints))
			profile.EnrichedAt = &now
		}
		profile.OnboardingCompleted = true
		if err := s.store.SaveBusinessProfile(ctx, profile); err != nil {
			return err
		}
	}

	user, err := s.store.GetUserByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if user != nil && !user.IsOnboardingComplete() {
		now := s.now().UTC()
		user.OnboardingCompleted = true
		user.OnboardingStage = models.OnboardingStageComplete
		user.OnboardingCompletedAt = &now
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return err
		}
	}

	if synthErr != nil {
		slog.Error("Profile enrichment failed, onboarding completed without it", "user_id", p.UserID, "error", synthErr)
		return synthErr
	}
	slog.Info("Business profile enriched", "user_id", p.UserID, "website", p.Website, "enriched", synthesis != nil)
	return nil
}

// applySessionData copies known onboarding fields into profile.
func applySessionData(profile *models.BusinessProfile, data map[string]interface{}) {
	for _, key := range []string{"business_name", "company_name", "name"} {
		if v := stringField(data, key); v != "" {
			profile.Name = v
			break
		}
	}
	if v := stringField(data, "website"); v != "" {
		profile.Website = v
	}
	if v := stringField(data, "industry"); v != "" {
		profile.Industry = v
	}
	if v := stringField(data, "company_size"); v != "" {
		profile.CompanySize = v
	}
	if v := stringField(data, "description"); v != "" {
		profile.Description = v
	}

	if v, ok := listField(data, "target_audience", "target_market"); ok {
		profile.TargetAudience = models.JSON(v)
	}
	if v, ok := listField(data, "marketing_goals"); ok {
		profile.MarketingGoals = models.JSON(v)
	}
	if v, ok := listField(data, "competitors"); ok {
		profile.Competitors = models.JSON(v)
	}
	if v, ok := listField(data, "current_channels"); ok {
		profile.CurrentChannels = models.JSON(v)
	}
	if v, ok := listField(data, "locations"); ok {
		profile.Locations = models.JSON(v)
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// listField accepts either a JSON array of strings or a single string.
func listField(data map[string]interface{}, keys ...string) ([]string, bool) {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return []string{v}, true
			}
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			return out, true
		case []string:
			return v, true
		}
	}
	return nil, false
}
