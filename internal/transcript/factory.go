package transcript

import (
	"context"
	"fmt"
	"strings"
)

type BackendConfig struct {
	Kind        string
	Dir         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string
}

// NewBackend opens the configured backend. "auto" picks postgres when a
// database URL is configured and the file backend otherwise.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		kind = "file"
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			kind = "postgres"
		}
	}
	switch kind {
	case "file":
		return NewFileBackend(cfg.Dir)
	case "memory":
		return NewInMemoryBackend(), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("transcript backend postgres requires DATABASE_URL")
		}
		return NewPostgresBackend(ctx, cfg.DatabaseURL)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("transcript backend redis requires REDIS_URL")
		}
		return NewRedisBackend(ctx, cfg.RedisURL)
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown transcript backend %q", cfg.Kind)
	}
}
