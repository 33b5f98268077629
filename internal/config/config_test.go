package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.BindAddr != ":7860" {
		t.Fatalf("BindAddr = %q, want :7860", cfg.BindAddr)
	}
	if cfg.ProviderMaxTokens != 4000 || cfg.RequestTokenBudget != 4000 || cfg.HistoryTokenBudget != 2000 {
		t.Fatalf("budgets = %d/%d/%d, want 4000/4000/2000", cfg.ProviderMaxTokens, cfg.RequestTokenBudget, cfg.HistoryTokenBudget)
	}
	if cfg.ResponseTokenCap != 2000 || cfg.MaxHistoryItems != 20 || cfg.RecentContextLimit != 30 {
		t.Fatalf("unexpected window defaults: %+v", cfg)
	}
	if cfg.CompletionModel != "deepseek-chat" || cfg.CompletionBaseURL != "https://api.deepseek.com/v1" {
		t.Fatalf("unexpected completion defaults: %+v", cfg)
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v", cfg.SessionInactivityTimeout)
	}
	if cfg.APIKey != "" {
		t.Fatalf("APIKey should be empty by default")
	}
}

func TestLoadFromDerivesBudgetsFromProviderMax(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"PROVIDER_MAX_TOKENS": "8000", "HISTORY_TOKEN_BUDGET": "1500"})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.RequestTokenBudget != 8000 || cfg.HistoryTokenBudget != 1500 {
		t.Fatalf("budgets = %d/%d", cfg.RequestTokenBudget, cfg.HistoryTokenBudget)
	}
}

func TestLoadFromRejectsRequestBudgetAboveProviderMax(t *testing.T) {
	_, err := LoadFrom(map[string]string{"REQUEST_TOKEN_BUDGET": "5000"})
	if err == nil || !strings.Contains(err.Error(), "REQUEST_TOKEN_BUDGET") {
		t.Fatalf("error = %v, want REQUEST_TOKEN_BUDGET violation", err)
	}
}

func TestLoadFromRejectsUnknownModes(t *testing.T) {
	_, err := LoadFrom(map[string]string{"COMPLETION_MODE": "telepathy", "TRANSCRIPT_BACKEND": "floppy"})
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"COMPLETION_MODE", "TRANSCRIPT_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %s", err, want)
		}
	}
}

func TestLoadFromRequiresBackendURLs(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"TRANSCRIPT_BACKEND": "redis"}); err == nil {
		t.Fatalf("redis without REDIS_URL should fail")
	}
	cfg, err := LoadFrom(map[string]string{"TRANSCRIPT_BACKEND": "Postgres", "DATABASE_URL": "postgres://localhost/db"})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.TranscriptBackend != "postgres" {
		t.Fatalf("TranscriptBackend = %q", cfg.TranscriptBackend)
	}
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "  sk-test  ")
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "sk-test" || cfg.BindAddr != ":9090" {
		t.Fatalf("Load() = %+v", cfg)
	}
}
