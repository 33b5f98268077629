// Package httpapi exposes chat sessions, transcripts and diagnostics over
// HTTP and websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/profile"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/transcript"
)

// Conversations is the part of the controller the API drives.
type Conversations interface {
	StartSession(ctx context.Context) *conversation.Session
	Submit(ctx context.Context, s *conversation.Session, message string, onUpdate conversation.UpdateFunc) error
	Clear(s *conversation.Session)
	Profile() profile.Profile
}

// Transcripts is the read side of the transcript store.
type Transcripts interface {
	Recent(ctx context.Context, limit int) []transcript.RecordInfo
	Get(ctx context.Context, key string) ([]chat.Turn, error)
}

type Deps struct {
	Sessions      *session.Manager
	Conversations Conversations
	Transcripts   Transcripts
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	convs       Conversations
	transcripts Transcripts
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		sessions:    deps.Sessions,
		convs:       deps.Conversations,
		transcripts: deps.Transcripts,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a session socket unless
				// configured otherwise. Non-browser clients omit Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/profile", s.handleProfile)

	r.Route("/v1/chat/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/messages", s.handleSubmitMessage)
		r.Post("/{id}/interrupt", s.handleInterrupt)
		r.Post("/{id}/clear", s.handleClear)
		r.Post("/{id}/end", s.handleEndSession)
	})

	r.Get("/v1/transcripts", s.handleListTranscripts)
	r.Get("/v1/transcripts/{key}", s.handleGetTranscript)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"completion_mode":    s.cfg.CompletionMode,
		"transcript_backend": s.cfg.TranscriptBackend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.sessions != nil && s.convs != nil
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"status":          map[bool]string{true: "ready", false: "not_ready"}[ready],
		"active_sessions": s.activeSessions(),
		"credential_set":  s.cfg.APIKey != "" || s.cfg.CompletionMode == "mock",
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.convs.Profile())
}

func (s *Server) activeSessions() int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.ActiveCount()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondSessionError maps session manager errors onto status codes.
func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	case errors.Is(err, session.ErrTurnInFlight):
		respondError(w, http.StatusConflict, "turn_in_flight", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
