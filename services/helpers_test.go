package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/morvo-ai/morvo/backend/repository"
	"github.com/morvo-ai/morvo/backend/tasks"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the gorm repositories.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	tokens    map[string]*models.RefreshToken
	business  map[string]*models.BusinessProfile
	cultural  map[string]*models.CulturalContext
	personal  map[string]*models.UserProfile
	domains   map[string]*models.SERankingDomain
	analyses  []models.SERankingBacklinkAnalysis
	statuses  []string
	convs     map[string]*models.Conversation
	turns     map[string][]models.ConversationTurn
	completed map[string]string
	failOn    string
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*models.User{},
		tokens:    map[string]*models.RefreshToken{},
		business:  map[string]*models.BusinessProfile{},
		cultural:  map[string]*models.CulturalContext{},
		personal:  map[string]*models.UserProfile{},
		domains:   map[string]*models.SERankingDomain{},
		convs:     map[string]*models.Conversation{},
		turns:     map[string][]models.ConversationTurn{},
		completed: map[string]string{},
	}
}

func (m *memStore) fail(op string) error {
	if m.failOn == op {
		return errStoreFailure
	}
	return nil
}

var errStoreFailure = errors.New("store failure")

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) UpdateUser(ctx context.Context, user *models.User) error {
	if err := m.fail("UpdateUser"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastLoginAt = &at
		u.LoginCount++
	}
	return nil
}

func (m *memStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = token
	return nil
}

func (m *memStore) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok && t.ExpiresAt.After(time.Now()) {
		return t, nil
	}
	return nil, nil
}

func (m *memStore) DeleteRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memStore) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
		}
	}
	return nil
}

func (m *memStore) tokenCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) GetBusinessProfile(ctx context.Context, userID string) (*models.BusinessProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.business[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SaveBusinessProfile(ctx context.Context, profile *models.BusinessProfile) error {
	if err := m.fail("SaveBusinessProfile"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	cp := *profile
	m.business[profile.UserID] = &cp
	return nil
}

func (m *memStore) GetCulturalContext(ctx context.Context, userID string) (*models.CulturalContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cc, ok := m.cultural[userID]; ok {
		cp := *cc
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SaveCulturalContext(ctx context.Context, cc *models.CulturalContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cc
	m.cultural[cc.UserID] = &cp
	return nil
}

func (m *memStore) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.personal[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SaveUserProfile(ctx context.Context, profile *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.personal[profile.UserID] = &cp
	return nil
}

func (m *memStore) GetOrCreateDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + domain
	if d, ok := m.domains[key]; ok {
		return d, nil
	}
	d := &models.SERankingDomain{ID: uuid.NewString(), UserID: userID, DomainName: domain, AnalysisStatus: models.AnalysisStatusPending}
	m.domains[key] = d
	return d, nil
}

func (m *memStore) GetDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.domains[userID+"|"+domain]; ok {
		return d, nil
	}
	return nil, nil
}

func (m *memStore) UpdateDomainStatus(ctx context.Context, domainID, status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	for _, d := range m.domains {
		if d.ID == domainID {
			d.AnalysisStatus = status
		}
	}
	return nil
}

func (m *memStore) SaveBacklinkAnalysis(ctx context.Context, a *models.SERankingBacklinkAnalysis, relevance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = append(m.analyses, *a)
	for _, d := range m.domains {
		if d.ID == a.DomainID {
			d.AnalysisStatus = models.AnalysisStatusCompleted
		}
	}
	return nil
}

func (m *memStore) GetDomainHistory(ctx context.Context, domainID string, limit int) ([]models.SERankingBacklinkAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SERankingBacklinkAnalysis
	for _, a := range m.analyses {
		if a.DomainID == domainID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) GetOrCreateConversation(ctx context.Context, userID, sessionID string, now time.Time) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.UserID == userID && c.SessionID == sessionID {
			c.Status = models.ConversationStatusActive
			cp := *c
			return &cp, nil
		}
	}
	c := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Status:    models.ConversationStatusActive,
		StartedAt: now,
	}
	m.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[id]; ok && c.UserID == userID {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.convs {
		if c.UserID == userID && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) DeleteConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[id]; !ok || c.UserID != userID {
		return repository.ErrNotFound
	}
	delete(m.convs, id)
	delete(m.turns, id)
	return nil
}

func (m *memStore) GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.ConversationTurn(nil), turns...), nil
}

func (m *memStore) AppendTurns(ctx context.Context, conv *models.Conversation, turns ...*models.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range turns {
		t.ConversationID = conv.ID
		m.turns[conv.ID] = append(m.turns[conv.ID], *t)
	}
	if c, ok := m.convs[conv.ID]; ok {
		c.Title = conv.Title
		c.TotalTurns = len(m.turns[conv.ID])
	}
	return nil
}

func (m *memStore) SaveAgentInteractions(ctx context.Context, interactions []models.AgentInteraction) error {
	return nil
}

func (m *memStore) CompleteConversation(ctx context.Context, id, reason, summary string, outcomes []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = models.ConversationStatusCompleted
	m.completed[id] = summary
	return nil
}

// fakeCoordinator answers every message with a fixed analysis.
type fakeCoordinator struct {
	mu       sync.Mutex
	requests []agents.AnalysisRequest
	analysis *agents.Analysis
	err      error
}

func (f *fakeCoordinator) Coordinate(ctx context.Context, req agents.AnalysisRequest) (*agents.Analysis, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.analysis != nil {
		return f.analysis, nil
	}
	return &agents.Analysis{
		AnalysisID:      uuid.NewString(),
		CorrelationID:   uuid.NewString(),
		ActivatedAgents: []string{agents.AgentCulturalContext},
		Coordinated: agents.CoordinatedAnalysis{
			Summary:            "Reply for " + req.Message,
			RecommendedActions: []string{"Localize your campaigns for Riyadh"},
			ConfidenceScore:    0.8,
		},
	}, nil
}

func (f *fakeCoordinator) lastRequest() agents.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeQueue records enqueued tasks; run executes them synchronously.
type fakeQueue struct {
	handlers map[string]tasks.Handler
	enqueued []*tasks.Task
	err      error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string]tasks.Handler{}}
}

func (q *fakeQueue) Register(name string, h tasks.Handler) {
	q.handlers[name] = h
}

func (q *fakeQueue) Enqueue(name string, payload interface{}, opts tasks.Options) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	t := &tasks.Task{ID: uuid.NewString(), Name: name, Payload: raw, MaxRetries: opts.MaxRetries, RetryDelay: opts.RetryDelay}
	q.enqueued = append(q.enqueued, t)
	return t.ID, nil
}

func (q *fakeQueue) run(t *testing.T, task *tasks.Task, attempt int) error {
	t.Helper()
	h, ok := q.handlers[task.Name]
	require.True(t, ok, "no handler for %s", task.Name)
	task.Attempt = attempt
	return h(context.Background(), task)
}

func testJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:             "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	}
}

// createUser stores an active user with a known password.
func createUser(t *testing.T, store *memStore, email string, superuser bool) *models.User {
	t.Helper()
	hashed, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	user := &models.User{Email: email, Password: hashed, IsActive: true, IsSuperuser: superuser}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

// withTestUser injects user into the request context as the auth
// middleware would.
func withTestUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(withUser(r.Context(), user, &AccessClaims{Scopes: user.Scopes()}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
