package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`

	Database   DatabaseConfig
	Auth       AuthConfig
	WeChat     WeChatConfig
	LLM        LLMConfig
	Storage    StorageConfig
	Processing ProcessingConfig
	Scheduler  SchedulerConfig
	Otel       OtelConfig

	// Server timeouts. WeChat drops a delivery after 5s, so writes stay short.
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"knowledgevault"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"knowledgevault"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// AuthConfig holds bearer token validation settings. Tokens are HS256 JWTs
// whose subject is the KnowledgeVault user id.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET_KEY" envDefault:""`
	Issuer    string `env:"JWT_ISSUER" envDefault:""`
	// Leeway tolerates small clock differences when checking exp/nbf.
	Leeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
}

// WeChatConfig holds official-account settings.
type WeChatConfig struct {
	// Token is the shared secret used to sign webhook deliveries.
	Token string `env:"WECHAT_TOKEN" envDefault:""`

	AppID     string `env:"WECHAT_APP_ID" envDefault:""`
	AppSecret string `env:"WECHAT_APP_SECRET" envDefault:""`

	// AccountID is the official account's original id (gh_...). Replies use
	// the inbound ToUserName and fall back to this.
	AccountID string `env:"WECHAT_ACCOUNT_ID" envDefault:""`

	APIBaseURL string  `env:"WECHAT_API_BASE_URL" envDefault:"https://api.weixin.qq.com"`
	RateLimit  float64 `env:"WECHAT_MEDIA_RATE_LIMIT" envDefault:"10"`

	LinkTokenTTL time.Duration `env:"WECHAT_LINK_TOKEN_TTL" envDefault:"10m"`
	// QRLinkURL is encoded into the link QR code; {token} is replaced.
	QRLinkURL string `env:"WECHAT_QR_LINK_URL" envDefault:"https://kv.app/wechat/link?token={token}"`
	QRSize    int    `env:"WECHAT_QR_SIZE" envDefault:"256"`

	// Text messages with at least this many characters are summarized.
	SummaryThreshold int           `env:"WECHAT_SUMMARY_THRESHOLD" envDefault:"100"`
	SummaryTimeout   time.Duration `env:"WECHAT_SUMMARY_TIMEOUT" envDefault:"4s"`

	DeactivateOnUnsubscribe bool `env:"WECHAT_DEACTIVATE_ON_UNSUBSCRIBE" envDefault:"false"`
}

// QRPayload returns the URL encoded into the link QR code for token.
func (w *WeChatConfig) QRPayload(token string) string {
	if !strings.Contains(w.QRLinkURL, "{token}") {
		return w.QRLinkURL + token
	}
	return strings.ReplaceAll(w.QRLinkURL, "{token}", token)
}

// APIConfigured reports whether platform API credentials are present.
func (w *WeChatConfig) APIConfigured() bool {
	return w.AppID != "" && w.AppSecret != ""
}

// LLMConfig holds settings for the summarization and tagging model.
type LLMConfig struct {
	// Provider selects the backend: "gemini" (API key) or "vertex".
	// Empty picks vertex when a GCP project is set, gemini otherwise.
	Provider string `env:"LLM_PROVIDER" envDefault:""`

	GoogleAPIKey     string `env:"GOOGLE_API_KEY" envDefault:""`
	GCPProjectID     string `env:"GCP_PROJECT_ID" envDefault:""`
	VertexAILocation string `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`

	Model           string        `env:"LLM_MODEL" envDefault:"gemini-2.5-flash"`
	MaxOutputTokens int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"1024"`
	Temperature     float64       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	Timeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	// Disable LLM network calls (for testing)
	NetworkDisabled bool `env:"LLM_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if LLM is configured
func (l *LLMConfig) IsEnabled() bool {
	if l.NetworkDisabled {
		return false
	}
	return l.UseVertexAI() || l.GoogleAPIKey != ""
}

// UseVertexAI returns true if Vertex AI should be used
func (l *LLMConfig) UseVertexAI() bool {
	switch l.Provider {
	case "vertex":
		return l.GCPProjectID != ""
	case "gemini":
		return false
	}
	return l.GCPProjectID != "" && l.VertexAILocation != ""
}

// StorageConfig holds S3-compatible object storage settings.
type StorageConfig struct {
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"knowledge-items"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// ProcessingConfig controls the deferred knowledge processing worker.
type ProcessingConfig struct {
	Enabled      bool          `env:"PROCESSING_ENABLED" envDefault:"true"`
	PollInterval time.Duration `env:"PROCESSING_POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"PROCESSING_BATCH_SIZE" envDefault:"5"`
	MaxAttempts  int           `env:"PROCESSING_MAX_ATTEMPTS" envDefault:"5"`
}

// SchedulerConfig controls periodic maintenance tasks.
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// Cron expressions, seconds precision.
	TokenPurgeSchedule string `env:"SCHEDULER_TOKEN_PURGE" envDefault:"0 */15 * * * *"`
	StaleJobSchedule   string `env:"SCHEDULER_STALE_JOBS" envDefault:"0 */10 * * * *"`
	StaleJobMinutes    int    `env:"SCHEDULER_STALE_JOB_MINUTES" envDefault:"30"`
	// Pending link rows whose token expired longer ago than this are removed.
	PendingRowRetention time.Duration `env:"SCHEDULER_PENDING_ROW_RETENTION" envDefault:"24h"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.WeChat.Token == "" {
		log.Warn("WECHAT_TOKEN not set - every webhook delivery will be rejected")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET_KEY not set - authenticated endpoints will reject all requests")
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Bool("llm_enabled", cfg.LLM.IsEnabled()),
		slog.Bool("storage_enabled", cfg.Storage.IsConfigured()),
	)

	return cfg, nil
}
