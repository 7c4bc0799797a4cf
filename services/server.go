package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/repository"
	"github.com/morvo-ai/morvo/backend/tasks"
	ws "github.com/morvo-ai/morvo/backend/websocket"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	cacheSweepEvery = 30 * time.Minute
)

// Server holds all server dependencies
type Server struct {
	config        *Config
	db            *gorm.DB
	repo          *repository.GORMRepository
	conversations *repository.ConversationRepository

	geminiService *GeminiService
	registry      *agents.Registry
	master        *agents.MasterAgent
	synthesis     *agents.DataSynthesisAgent
	seranking     *agents.SERankingAgent
	queue         *tasks.Queue
	wsHub         *ws.Hub
	tracker       *ConversationTracker
	cache         *agents.ResultCache
	chatService   *ChatService
	authService   *AuthService
	rateLimiter   *RateLimiter

	websocketHandler    *WebSocketHandler
	healthEndpoints     *HealthEndpoints
	authEndpoints       *AuthEndpoints
	chatEndpoints       *ChatEndpoints
	agentEndpoints      *AgentEndpoints
	conversationRoutes  *ConversationEndpoints
	onboardingEndpoints *OnboardingEndpoints
	profileEndpoints    *ProfileEndpoints
	serankingEndpoints  *SERankingEndpoints
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{config: config}
}

// OpenDatabase connects gorm to Postgres and applies the pool settings.
func OpenDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func gormLogLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *gorm.DB) {
	s.db = db
	s.repo = repository.NewGORMRepository(db)
	s.conversations = repository.NewConversationRepository(db)
}

// InitializeServices builds the agent team and the services around it.
// ctx bounds the lifetime of in-flight websocket replies.
func (s *Server) InitializeServices(ctx context.Context) error {
	cfg := s.config

	gemini, err := NewGeminiService(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
	switch {
	case err == nil:
		s.geminiService = gemini
		slog.Info("Gemini service initialized", "model", gemini.Model())
	case errors.Is(err, ErrLLMNotConfigured):
		slog.Warn("GEMINI_API_KEY not set, replies will use templates")
	default:
		return err
	}
	var llm agents.TextGenerator
	var summarizer Summarizer
	var compactor HistoryCompactor
	if s.geminiService != nil {
		llm, summarizer, compactor = s.geminiService, s.geminiService, s.geminiService
	}

	cache := agents.NewResultCache(cfg.Cache.Dir, cfg.Cache.TTL)
	s.cache = cache
	cultural := agents.NewCulturalContextAgent()
	perplexity := agents.NewPerplexityAgent(cfg.AI.PerplexityAPIKey, cfg.AI.PerplexityBaseURL, cache)
	s.seranking = agents.NewSERankingAgent(cfg.AI.SERankingAPIKey, cfg.AI.SERankingBaseURL, cache)
	s.synthesis = agents.NewDataSynthesisAgent(llm, perplexity, s.seranking, cultural)

	s.registry = agents.NewRegistry()
	s.registry.Register(cultural)
	s.registry.Register(perplexity)
	s.registry.Register(s.seranking)
	s.registry.Register(s.synthesis)
	s.master = agents.NewMasterAgent(s.registry, llm)
	s.registry.Register(s.master)
	slog.Info("Agents registered", "count", len(s.registry.List()),
		"perplexity", perplexity.Available(), "seranking", s.seranking.Available())

	s.queue = tasks.NewQueue(tasks.Config{
		Workers:    cfg.Tasks.Workers,
		QueueSize:  cfg.Tasks.QueueSize,
		MaxRetries: cfg.Tasks.MaxRetries,
		RetryDelay: cfg.Tasks.RetryDelay,
		Timeout:    cfg.Tasks.Timeout,
	})

	s.chatService = NewChatService(s.master, cfg.Conversation.HistoryLimit)
	s.chatService.SetHistoryTTL(cfg.Conversation.InactivityTimeout)
	if compactor != nil {
		s.chatService.SetCompactor(compactor)
	}

	if s.repo != nil {
		s.tracker = NewConversationTracker(s.conversations, summarizer, cfg.Conversation.InactivityTimeout)
		s.tracker.OnConclude(func(conversationID, clientID string) {
			s.chatService.Forget(clientID)
			if s.geminiService != nil {
				s.geminiService.ClearConversation(conversationID)
			}
		})
		s.chatService.SetPersistence(s.conversations, s.tracker)

		s.authService = NewAuthService(s.repo, cfg.JWT, cfg.App.IsProduction())
		s.authEndpoints = NewAuthEndpoints(s.authService)
		s.conversationRoutes = NewConversationEndpoints(s.conversations, s.tracker, s.chatService)
		s.profileEndpoints = NewProfileEndpoints(s.repo)
		s.onboardingEndpoints = NewOnboardingEndpoints(
			NewOnboardingService(s.repo, s.master, s.synthesis, s.queue, cfg.Tasks))
		s.serankingEndpoints = NewSERankingEndpoints(
			NewSERankingService(s.seranking, s.repo, s.queue, cfg.Tasks))
		slog.Info("Authentication and persistence initialized")
	} else {
		slog.Warn("Database URL not configured, running without persistence or authentication")
	}

	s.wsHub = ws.NewHub()
	s.websocketHandler = NewWebSocketHandler(ctx, s.chatService, s.tracker, s.wsHub, cfg.WebSocket.AllowedOrigins)
	s.chatEndpoints = NewChatEndpoints(s.chatService, s.authService)
	s.agentEndpoints = NewAgentEndpoints(s.registry, s.authService, cache)
	s.healthEndpoints = &HealthEndpoints{
		Registry:    s.registry,
		Connections: s.websocketHandler.Connections,
		Queue:       s.queue,
		Cache:       cache,
		SERanking:   s.seranking,
		Environment: cfg.App.Environment,
	}
	if s.repo != nil {
		s.healthEndpoints.Database = s.repo
	}
	if s.geminiService != nil {
		s.healthEndpoints.LLMModel = s.geminiService.Model()
	}

	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, DefaultPathRules)
	}
	return nil
}

// corsOptions allows credentials only with an explicit origin list; browsers
// refuse credentialed responses to a wildcard origin.
func corsOptions(cfg CORSConfig) cors.Options {
	credentials := len(cfg.AllowedOrigins) > 0
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			credentials = false
		}
	}
	return cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if proxies, err := parseTrustedProxies(s.config.Server.TrustedProxies); err == nil && len(proxies) > 0 {
		r.Use(trustedRealIP(proxies))
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(s.config.CORS)))
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware)
	}

	r.Get("/", s.healthEndpoints.RootHandler)

	r.Route("/v1", func(r chi.Router) {
		s.healthEndpoints.RegisterRoutes(r)
		s.chatEndpoints.RegisterRoutes(r)
		s.agentEndpoints.RegisterRoutes(r)

		if s.authService != nil {
			s.authEndpoints.RegisterRoutes(r)
			r.With(s.authService.OptionalAuth).Get("/ws", s.websocketHandler.ServeHTTP)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.conversationRoutes.RegisterRoutes(r)
				s.onboardingEndpoints.RegisterRoutes(r)
				s.profileEndpoints.RegisterRoutes(r)
				s.serankingEndpoints.RegisterRoutes(r)
			})
		} else {
			r.Get("/ws", s.websocketHandler.ServeHTTP)
		}
	})

	return r
}

// Start runs the background workers and serves HTTP until ctx is done, then
// shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	hubDone := make(chan struct{})
	go func() {
		s.wsHub.Run(bgCtx)
		close(hubDone)
	}()
	s.queue.Start(bgCtx)
	go s.chatService.RunJanitor(bgCtx)
	go s.cache.RunJanitor(bgCtx, cacheSweepEvery)
	if s.tracker != nil {
		go s.tracker.Run(bgCtx)
	}
	if s.geminiService != nil {
		go s.geminiService.RunJanitor(bgCtx)
	}
	if s.rateLimiter != nil {
		go s.rateLimiter.Run(bgCtx)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port, "environment", s.config.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stopBackground()
			s.queue.Stop()
			<-hubDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	notice, _ := json.Marshal(ws.Outbound{Type: "server_shutdown", Timestamp: time.Now().UTC()})
	if err := s.wsHub.Broadcast(notice); err != nil {
		slog.Warn("Failed to notify websocket clients of shutdown", "error", err)
	}

	stopBackground()
	s.queue.Stop()
	<-hubDone

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	slog.Info("Server exited")
	return nil
}
