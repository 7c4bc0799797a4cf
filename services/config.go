package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
	"testing":     true,
}

// Config holds application configuration
type Config struct {
	Server       ServerConfig
	App          AppConfig
	Log          LogConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	AI           AIConfig
	Cache        CacheConfig
	CORS         CORSConfig
	WebSocket    WebSocketConfig
	RateLimit    RateLimitConfig
	Tasks        TasksConfig
	Conversation ConversationConfig
	Seed         SeedConfig
}

type ServerConfig struct {
	Port string
	// TrustedProxies lists the IPs or CIDRs whose forwarding headers are
	// believed. Empty means the peer address is always the client.
	TrustedProxies []string
}

type AppConfig struct {
	Environment string
}

func (c AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

type LogConfig struct {
	Level string
	JSON  bool
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type AIConfig struct {
	GeminiAPIKey      string
	GeminiModel       string
	PerplexityAPIKey  string
	PerplexityBaseURL string
	SERankingAPIKey   string
	SERankingBaseURL  string
}

type CacheConfig struct {
	Dir string
	TTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

type TasksConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type ConversationConfig struct {
	InactivityTimeout time.Duration
	HistoryLimit      int
}

type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.trusted_proxies", "")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", "true")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "false")
	viper.SetDefault("database.log_level", "warn")
	viper.SetDefault("database.max_idle_conns", "5")
	viper.SetDefault("database.max_open_conns", "25")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.access_token_expire_minutes", "60")
	viper.SetDefault("jwt.refresh_token_expire_days", "7")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("perplexity.api_key", "")
	viper.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	viper.SetDefault("seranking.api_key", "")
	viper.SetDefault("seranking.base_url", "https://api.seranking.com/v1")
	viper.SetDefault("cache.dir", ".cache/morvo")
	viper.SetDefault("cache.ttl", "6h")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("websocket.allowed_origins", "http://localhost:3000,http://localhost:5173")
	viper.SetDefault("rate_limit.enabled", "true")
	viper.SetDefault("rate_limit.requests", "100")
	viper.SetDefault("rate_limit.window", "1m")
	viper.SetDefault("tasks.workers", "4")
	viper.SetDefault("tasks.queue_size", "100")
	viper.SetDefault("tasks.max_retries", "5")
	viper.SetDefault("tasks.retry_delay", "5m")
	viper.SetDefault("tasks.timeout", "1h")
	viper.SetDefault("conversation.inactivity_timeout", "30m")
	viper.SetDefault("conversation.history_limit", "20")
	viper.SetDefault("seed.admin_email", "")
	viper.SetDefault("seed.admin_password", "")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.trusted_proxies", "TRUSTED_PROXIES")
	viper.BindEnv("app.environment", "ENVIRONMENT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.json", "JSON_LOGS")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("jwt.access_token_expire_minutes", "JWT_ACCESS_TOKEN_EXPIRE_MINUTES")
	viper.BindEnv("jwt.refresh_token_expire_days", "JWT_REFRESH_TOKEN_EXPIRE_DAYS")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
	viper.BindEnv("perplexity.api_key", "PERPLEXITY_API_KEY")
	viper.BindEnv("perplexity.base_url", "PERPLEXITY_BASE_URL")
	viper.BindEnv("seranking.api_key", "SERANKING_API_KEY")
	viper.BindEnv("seranking.base_url", "SERANKING_BASE_URL")
	viper.BindEnv("cache.dir", "CACHE_DIR")
	viper.BindEnv("cache.ttl", "CACHE_TTL")
	viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	viper.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	viper.BindEnv("tasks.workers", "TASKS_WORKERS")
	viper.BindEnv("tasks.queue_size", "TASKS_QUEUE_SIZE")
	viper.BindEnv("tasks.max_retries", "TASKS_MAX_RETRIES")
	viper.BindEnv("tasks.retry_delay", "TASKS_RETRY_DELAY")
	viper.BindEnv("tasks.timeout", "TASKS_TIMEOUT")
	viper.BindEnv("conversation.inactivity_timeout", "CONVERSATION_INACTIVITY_TIMEOUT")
	viper.BindEnv("conversation.history_limit", "CONVERSATION_HISTORY_LIMIT")
	viper.BindEnv("seed.admin_email", "ADMIN_EMAIL")
	viper.BindEnv("seed.admin_password", "ADMIN_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	cfg := configFromViper()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFromViper() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			TrustedProxies: splitList(viper.GetString("server.trusted_proxies")),
		},
		App: AppConfig{
			Environment: strings.ToLower(viper.GetString("app.environment")),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			JSON:  viper.GetBool("log.json"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		JWT: JWTConfig{
			Secret:             viper.GetString("jwt.secret"),
			AccessTokenExpiry:  time.Duration(viper.GetInt("jwt.access_token_expire_minutes")) * time.Minute,
			RefreshTokenExpiry: time.Duration(viper.GetInt("jwt.refresh_token_expire_days")) * 24 * time.Hour,
		},
		AI: AIConfig{
			GeminiAPIKey:      viper.GetString("gemini.api_key"),
			GeminiModel:       viper.GetString("gemini.model"),
			PerplexityAPIKey:  viper.GetString("perplexity.api_key"),
			PerplexityBaseURL: viper.GetString("perplexity.base_url"),
			SERankingAPIKey:   viper.GetString("seranking.api_key"),
			SERankingBaseURL:  viper.GetString("seranking.base_url"),
		},
		Cache: CacheConfig{
			Dir: viper.GetString("cache.dir"),
			TTL: viper.GetDuration("cache.ttl"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(viper.GetString("cors.allowed_origins")),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  viper.GetBool("rate_limit.enabled"),
			Requests: viper.GetInt("rate_limit.requests"),
			Window:   viper.GetDuration("rate_limit.window"),
		},
		Tasks: TasksConfig{
			Workers:    viper.GetInt("tasks.workers"),
			QueueSize:  viper.GetInt("tasks.queue_size"),
			MaxRetries: viper.GetInt("tasks.max_retries"),
			RetryDelay: viper.GetDuration("tasks.retry_delay"),
			Timeout:    viper.GetDuration("tasks.timeout"),
		},
		Conversation: ConversationConfig{
			InactivityTimeout: viper.GetDuration("conversation.inactivity_timeout"),
			HistoryLimit:      viper.GetInt("conversation.history_limit"),
		},
		Seed: SeedConfig{
			AdminEmail:    viper.GetString("seed.admin_email"),
			AdminPassword: viper.GetString("seed.admin_password"),
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if !validEnvironments[c.App.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT %q: must be development, staging, production or testing", c.App.Environment)
	}
	if c.Database.URL != "" && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required when DATABASE_URL is set")
	}
	if c.JWT.AccessTokenExpiry <= 0 || c.JWT.RefreshTokenExpiry <= 0 {
		return fmt.Errorf("token expiry settings must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if _, err := parseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
