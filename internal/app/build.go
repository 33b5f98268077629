// Package app wires configuration into the running chat service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/confidant/internal/completion"
	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/history"
	"github.com/ent0n29/confidant/internal/httpapi"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/profile"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/tokens"
	"github.com/ent0n29/confidant/internal/transcript"
	"github.com/ent0n29/confidant/internal/window"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Controller *conversation.Controller
	Store      *transcript.Store
	Metrics    *observability.Metrics
	Profile    profile.Profile

	// Cleanup should be called on shutdown to release the transcript backend.
	Cleanup func() error
}

// Build assembles every component from cfg. A profile that exists but cannot
// be parsed is fatal; a missing one is replaced by the default.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	counter, err := tokens.New(cfg.TokenEncoding)
	if err != nil {
		logger.Warn("token encoding unavailable, using estimator", "encoding", cfg.TokenEncoding, "err", err)
	}

	prof, err := profile.Load(cfg.ProfilePath, logger)
	if err != nil {
		return nil, fmt.Errorf("profile init failed: %w", err)
	}

	backend, err := transcript.NewBackend(ctx, transcript.BackendConfig{
		Kind:        cfg.TranscriptBackend,
		Dir:         cfg.ConversationDir,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("transcript backend init failed: %w", err)
	}
	store := transcript.NewStore(backend, transcript.Options{
		Logger:    logger,
		Metrics:   metrics,
		RedactPII: cfg.RedactPII,
	})

	adapter, err := completion.NewAdapter(completion.Config{
		Mode:            cfg.CompletionMode,
		BaseURL:         cfg.CompletionBaseURL,
		APIKey:          cfg.APIKey,
		Timeout:         cfg.CompletionTimeout,
		MaxRetries:      cfg.CompletionMaxRetries,
		StreamStrict:    cfg.CompletionStreamStrict,
		FallbackBaseURL: cfg.FallbackBaseURL,
		FallbackAPIKey:  cfg.FallbackAPIKey,
		FallbackModel:   cfg.FallbackModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion adapter init failed: %w", err)
	}
	client := completion.NewClient(adapter, counter, completion.ClientConfig{
		Model:            cfg.CompletionModel,
		ResponseTokenCap: cfg.ResponseTokenCap,
		RequestBudget:    cfg.RequestTokenBudget,
	}, logger, metrics)

	controller := conversation.NewController(conversation.Options{
		Assembler:  history.NewAssembler(store),
		Store:      store,
		Trimmer:    window.NewTrimmer(counter),
		Builder:    window.NewPromptBuilder(counter, cfg.MaxHistoryItems),
		Completion: client,
		Profile:    prof,
		Logger:     logger,
		Metrics:    metrics,
	}, conversation.Config{
		HistoryBudget:      cfg.HistoryTokenBudget,
		RequestBudget:      cfg.RequestTokenBudget,
		RecentContextLimit: cfg.RecentContextLimit,
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s session.Session) {
		logger.Info("session expired", "session_id", s.ID, "turns", s.TurnCount)
		metrics.SessionEvent("expired", sessions.ActiveCount())
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:      sessions,
		Conversations: controller,
		Transcripts:   store,
		Metrics:       metrics,
		Logger:        logger,
	})

	cleanup := func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close transcript store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Controller: controller,
		Store:      store,
		Metrics:    metrics,
		Profile:    prof,
		Cleanup:    cleanup,
	}, nil
}
