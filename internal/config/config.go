// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr                 string        `env:"APP_BIND_ADDR" envDefault:":7860"`
	ShutdownTimeout          time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SessionInactivityTimeout time.Duration `env:"APP_SESSION_INACTIVITY_TIMEOUT" envDefault:"30m"`
	MetricsNamespace         string        `env:"APP_METRICS_NAMESPACE" envDefault:"confidant"`
	AllowAnyOrigin           bool          `env:"APP_ALLOW_ANY_ORIGIN"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ProfilePath string `env:"PROFILE_PATH" envDefault:"profile.json"`

	CompletionMode         string        `env:"COMPLETION_MODE" envDefault:"auto"`
	APIKey                 string        `env:"DEEPSEEK_API_KEY"`
	CompletionBaseURL      string        `env:"COMPLETION_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	CompletionModel        string        `env:"COMPLETION_MODEL" envDefault:"deepseek-chat"`
	CompletionTimeout      time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"120s"`
	CompletionMaxRetries   int           `env:"COMPLETION_MAX_RETRIES" envDefault:"2"`
	CompletionStreamStrict bool          `env:"COMPLETION_STREAM_STRICT"`

	FallbackBaseURL string `env:"COMPLETION_FALLBACK_BASE_URL"`
	FallbackAPIKey  string `env:"COMPLETION_FALLBACK_API_KEY"`
	FallbackModel   string `env:"COMPLETION_FALLBACK_MODEL"`

	// ProviderMaxTokens is the provider's hard request ceiling.
	ProviderMaxTokens int `env:"PROVIDER_MAX_TOKENS" envDefault:"4000"`
	ResponseTokenCap  int `env:"RESPONSE_TOKEN_CAP" envDefault:"2000"`
	// RequestTokenBudget defaults to ProviderMaxTokens.
	RequestTokenBudget int `env:"REQUEST_TOKEN_BUDGET"`
	// HistoryTokenBudget defaults to half of ProviderMaxTokens.
	HistoryTokenBudget int    `env:"HISTORY_TOKEN_BUDGET"`
	MaxHistoryItems    int    `env:"MAX_HISTORY_ITEMS" envDefault:"20"`
	RecentContextLimit int    `env:"RECENT_CONTEXT_LIMIT" envDefault:"30"`
	TokenEncoding      string `env:"TOKEN_ENCODING" envDefault:"cl100k_base"`

	TranscriptBackend string `env:"TRANSCRIPT_BACKEND" envDefault:"auto"`
	ConversationDir   string `env:"CONVERSATION_DIR" envDefault:"data/conversations"`
	DatabaseURL       string `env:"DATABASE_URL"`
	RedisURL          string `env:"REDIS_URL"`
	SQLitePath        string `env:"SQLITE_PATH" envDefault:"data/conversations.db"`
	RedactPII         bool   `env:"TRANSCRIPT_REDACT_PII"`
}

// Load reads the process environment and applies defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.CompletionMode = strings.ToLower(strings.TrimSpace(cfg.CompletionMode))
	cfg.TranscriptBackend = strings.ToLower(strings.TrimSpace(cfg.TranscriptBackend))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if cfg.RequestTokenBudget == 0 {
		cfg.RequestTokenBudget = cfg.ProviderMaxTokens
	}
	if cfg.HistoryTokenBudget == 0 {
		cfg.HistoryTokenBudget = cfg.ProviderMaxTokens / 2
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ProviderMaxTokens <= 0 {
		errs = append(errs, errors.New("PROVIDER_MAX_TOKENS must be positive"))
	}
	if c.RequestTokenBudget <= 0 || c.RequestTokenBudget > c.ProviderMaxTokens {
		errs = append(errs, fmt.Errorf("REQUEST_TOKEN_BUDGET must be in (0, %d], got %d", c.ProviderMaxTokens, c.RequestTokenBudget))
	}
	if c.HistoryTokenBudget <= 0 {
		errs = append(errs, errors.New("HISTORY_TOKEN_BUDGET must be positive"))
	}
	if c.ResponseTokenCap <= 0 {
		errs = append(errs, errors.New("RESPONSE_TOKEN_CAP must be positive"))
	}
	if c.MaxHistoryItems <= 0 {
		errs = append(errs, errors.New("MAX_HISTORY_ITEMS must be positive"))
	}
	if c.RecentContextLimit <= 0 {
		errs = append(errs, errors.New("RECENT_CONTEXT_LIMIT must be positive"))
	}
	if c.CompletionMaxRetries < 0 {
		errs = append(errs, errors.New("COMPLETION_MAX_RETRIES must be >= 0"))
	}
	switch c.CompletionMode {
	case "auto", "openai", "http", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown COMPLETION_MODE %q", c.CompletionMode))
	}
	switch c.TranscriptBackend {
	case "auto", "file", "memory", "postgres", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSCRIPT_BACKEND %q", c.TranscriptBackend))
	}
	if c.TranscriptBackend == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("TRANSCRIPT_BACKEND=postgres requires DATABASE_URL"))
	}
	if c.TranscriptBackend == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		errs = append(errs, errors.New("TRANSCRIPT_BACKEND=redis requires REDIS_URL"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
