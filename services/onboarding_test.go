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
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSynthesizer struct {
	calls  int
	result *agents.WebsiteSynthesis
	err    error
}

func (f *fakeSynthesizer) SynthesizeWebsite(ctx context.Context, websiteURL string) (*agents.WebsiteSynthesis, error) {
	f.calls++
	return f.result, f.err
}

func newTestOnboarding(t *testing.T, synth WebsiteSynthesizer) (*OnboardingService, *memStore, *fakeQueue, *models.User) {
	t.Helper()
	store := newMemStore()
	user := createUser(t, store, "owner@example.com", false)
	user.OnboardingStage = models.OnboardingStagePersonal
	require.NoError(t, store.UpdateUser(context.Background(), user))
	queue := newFakeQueue()
	svc := NewOnboardingService(store, &fakeCoordinator{}, synth, queue, TasksConfig{MaxRetries: 2, RetryDelay: time.Minute})
	return svc, store, queue, user
}

func TestOnboardingStart(t *testing.T) {
	svc, store, _, user := newTestOnboarding(t, nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, user, OnboardingRequest{BusinessName: "Qahwa House"})
	assert.ErrorIs(t, err, ErrValidation)

	resp, err := svc.Start(ctx, user, OnboardingRequest{
		BusinessName:   "Qahwa House",
		Industry:       "Food & Beverage",
		Website:        "qahwa.sa",
		TargetMarket:   "Riyadh",
		MarketingGoals: []string{"brand awareness"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Morvo AI! Let's get your marketing strategy set up.", resp.Message)
	assert.Equal(t, []string{"Localize your campaigns for Riyadh"}, resp.Recommendations)
	assert.Equal(t, []string{"Complete business profile", "Connect analytics", "Review suggestions"}, resp.NextSteps)
	assert.False(t, resp.OnboardingComplete)

	profile, err := store.GetBusinessProfile(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Qahwa House", profile.Name)
	assert.Equal(t, []string{"brand awareness"}, models.Strings(profile.MarketingGoals))
	assert.Equal(t, []string{}, models.Strings(profile.CurrentChannels))

	stored, _ := store.GetUserByID(ctx, user.ID)
	assert.Equal(t, models.OnboardingStageBusiness, stored.OnboardingStage)

	status, err := svc.Status(ctx, stored)
	require.NoError(t, err)
	assert.True(t, status.OnboardingStarted)
	assert.True(t, status.BusinessProfileExists)
	assert.False(t, status.OnboardingComplete)
}

func TestOnboardingStartDefaultRecommendations(t *testing.T) {
	store := newMemStore()
	user := createUser(t, store, "owner@example.com", false)
	coord := &fakeCoordinator{analysis: &agents.Analysis{}}
	svc := NewOnboardingService(store, coord, nil, newFakeQueue(), TasksConfig{})

	resp, err := svc.Start(context.Background(), user, OnboardingRequest{
		BusinessName: "Qahwa House", Industry: "F&B", TargetMarket: "KSA", MarketingGoals: []string{"sales"},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultOnboardingRecommendations, resp.Recommendations)
}

func TestOnboardingSessionFlow(t *testing.T) {
	synth := &fakeSynthesizer{result: &agents.WebsiteSynthesis{
		Domain:        "qahwa.sa",
		Opportunities: []string{"Ramadan gifting bundles"},
		PainPoints:    []string{"Slow mobile checkout"},
	}}
	svc, store, queue, user := newTestOnboarding(t, synth)
	ctx := context.Background()

	session := svc.CreateSession(user.ID)
	require.NoError(t, svc.SaveStep(user.ID, session.ID, "business", map[string]interface{}{
		"business_name": "Qahwa House",
		"website":       "https://qahwa.sa",
		"industry":      "Food & Beverage",
	}))
	require.NoError(t, svc.SaveStep(user.ID, session.ID, "audience", map[string]interface{}{
		"target_audience": []interface{}{"Young professionals", "Families"},
		"marketing_goals": "Grow online orders",
	}))
	assert.ErrorIs(t, svc.SaveStep("someone-else", session.ID, "x", nil), ErrSessionNotFound)
	assert.ErrorIs(t, svc.SaveStep(user.ID, session.ID, " ", nil), ErrValidation)

	taskID, err := svc.Finalize(ctx, user, session.ID)
	require.NoError(t, err)
	require.Len(t, queue.enqueued, 1)
	task := queue.enqueued[0]
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskEnrichProfile, task.Name)
	assert.Equal(t, 2, task.MaxRetries)

	_, err = svc.Finalize(ctx, user, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	profile, _ := store.GetBusinessProfile(ctx, user.ID)
	assert.Equal(t, "Qahwa House", profile.Name)
	assert.Equal(t, []string{"Young professionals", "Families"}, models.Strings(profile.TargetAudience))
	assert.Equal(t, []string{"Grow online orders"}, models.Strings(profile.MarketingGoals))
	stored, _ := store.GetUserByID(ctx, user.ID)
	assert.Equal(t, models.OnboardingStageAnalysis, stored.OnboardingStage)

	require.NoError(t, queue.run(t, task, 1))
	assert.Equal(t, 1, synth.calls)

	profile, _ = store.GetBusinessProfile(ctx, user.ID)
	assert.True(t, profile.OnboardingCompleted)
	assert.NotNil(t, profile.EnrichedAt)
	assert.Equal(t, []string{"Ramadan gifting bundles"}, models.Strings(profile.Opportunities))
	assert.Equal(t, []string{"Slow mobile checkout"}, models.Strings(profile.PainPoints))

	stored, _ = store.GetUserByID(ctx, user.ID)
	assert.True(t, stored.IsOnboardingComplete())
	assert.NotNil(t, stored.OnboardingCompletedAt)
}

func TestEnrichmentFailureCompletesOnLastAttempt(t *testing.T) {
	synth := &fakeSynthesizer{err: errors.New("perplexity down")}
	svc, store, queue, user := newTestOnboarding(t, synth)
	ctx := context.Background()

	session := svc.CreateSession(user.ID)
	require.NoError(t, svc.SaveStep(user.ID, session.ID, "business", map[string]interface{}{
		"company_name": "Qahwa House",
		"website":      "qahwa.sa",
	}))
	_, err := svc.Finalize(ctx, user, session.ID)
	require.NoError(t, err)
	task := queue.enqueued[0]

	// Attempts 1 and 2 may still be retried; nothing is completed yet.
	assert.Error(t, queue.run(t, task, 1))
	stored, _ := store.GetUserByID(ctx, user.ID)
	assert.False(t, stored.IsOnboardingComplete())

	// Attempt 3 is the last one with MaxRetries 2.
	assert.Error(t, queue.run(t, task, 3))
	stored, _ = store.GetUserByID(ctx, user.ID)
	assert.True(t, stored.IsOnboardingComplete())
	profile, _ := store.GetBusinessProfile(ctx, user.ID)
	assert.True(t, profile.OnboardingCompleted)
	assert.Nil(t, profile.EnrichedAt)
}

func TestFinalizeRequiresBusinessName(t *testing.T) {
	svc, _, queue, user := newTestOnboarding(t, nil)
	session := svc.CreateSession(user.ID)
	require.NoError(t, svc.SaveStep(user.ID, session.ID, "audience", map[string]interface{}{"industry": "Retail"}))

	_, err := svc.Finalize(context.Background(), user, session.ID)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, queue.enqueued)
}

func TestOnboardingSessionsExpire(t *testing.T) {
	svc, _, _, user := newTestOnboarding(t, nil)
	now := time.Now()
	svc.now = func() time.Time { return now }
	session := svc.CreateSession(user.ID)

	now = now.Add(25 * time.Hour)
	assert.ErrorIs(t, svc.SaveStep(user.ID, session.ID, "business", map[string]interface{}{}), ErrSessionNotFound)
}

func TestOnboardingEndpoints(t *testing.T) {
	svc, _, _, user := newTestOnboarding(t, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withTestUser(r, user))
		})
	})
	NewOnboardingEndpoints(svc).RegisterRoutes(r)

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := serve(http.MethodPost, "/onboarding/start", `{"business_name":"Qahwa"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(http.MethodPost, "/onboarding/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created OnboardingSessionResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, "Onboarding session started successfully.", created.Message)

	rec = serve(http.MethodPost, "/onboarding/sessions/"+created.SessionID+"/steps",
		`{"step_name":"business","step_data":{"business_name":"Qahwa House"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var step OnboardingSessionResponse
	decodeBody(t, rec, &step)
	assert.Equal(t, "step_saved", step.Status)

	rec = serve(http.MethodPost, "/onboarding/sessions/unknown/finalize", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(http.MethodPost, "/onboarding/sessions/"+created.SessionID+"/finalize", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var final OnboardingSessionResponse
	decodeBody(t, rec, &final)
	assert.Equal(t, "enrichment_triggered", final.Status)
	assert.Equal(t, "Onboarding finalized. AI analysis is now running in the background.", final.Message)

	rec = serve(http.MethodGet, "/onboarding/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status OnboardingStatus
	decodeBody(t, rec, &status)
	assert.True(t, status.BusinessProfileExists)
}
