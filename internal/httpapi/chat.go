package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/protocol"
	"github.com/ent0n29/confidant/internal/session"
)

type submitRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	TurnID  string          `json:"turn_id,omitempty"`
	Outcome string          `json:"outcome"`
	Session session.Session `json:"session"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	conv := s.convs.StartSession(r.Context())
	sess := s.sessions.Create(conv)
	s.metrics.SessionEvent("created", s.sessions.ActiveCount())
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.SessionEvent("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	interrupted, err := s.sessions.Interrupt(chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"interrupted": interrupted})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Update(chi.URLParam(r, "id"), s.convs.Clear)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.SessionEvent("cleared", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

// handleSubmitMessage runs one turn. With ?stream=true (or an
// event-stream Accept header) every snapshot is sent as a server-sent event;
// otherwise the response is the session after the turn.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if wantsEventStream(r) {
		s.streamTurn(w, r, id, req.Text)
		return
	}

	res, err := s.runTurn(r.Context(), id, req.Text, nil)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, id, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondSessionError(w, err)
		return
	}
	started := false
	writeEvent := func(event string, v any) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	res, err := s.runTurn(r.Context(), id, text, func(turnID string, snap conversation.Snapshot) error {
		ev := snapshotEvent(id, turnID, snap)
		t, _ := messageTypeOf(ev)
		return writeEvent(string(t), ev)
	})
	if err != nil && !started {
		respondSessionError(w, err)
		return
	}
	if err != nil {
		return
	}
	_ = writeEvent(string(protocol.TypeAssistantTurnEnd), protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: id,
		TurnID:    res.TurnID,
		Reason:    res.Outcome,
		Key:       res.Session.Key,
	})
}

// runTurn claims the session, submits text and releases it. Interruption is
// reported as an outcome rather than an error; session errors are returned.
func (s *Server) runTurn(ctx context.Context, id, text string, emit func(turnID string, snap conversation.Snapshot) error) (turnResponse, error) {
	turn, err := s.sessions.StartTurn(ctx, id)
	if err != nil {
		return turnResponse{}, err
	}
	onUpdate := func(snap conversation.Snapshot) error {
		if emit == nil {
			return nil
		}
		return emit(turn.ID, snap)
	}

	outcome := protocol.ReasonCompleted
	if strings.TrimSpace(text) == "" {
		outcome = protocol.ReasonNoop
	}
	// Submit fails only when the turn was abandoned before it was recorded.
	if err := s.convs.Submit(turn.Ctx, turn.Conversation, text, onUpdate); err != nil && outcome != protocol.ReasonNoop {
		outcome = protocol.ReasonInterrupted
		s.logger.Info("turn interrupted", "session_id", id, "turn_id", turn.ID, "err", err)
	}
	if err := s.sessions.FinishTurn(id, turn.ID); err != nil {
		return turnResponse{}, err
	}
	view, err := s.sessions.Get(id)
	if err != nil {
		return turnResponse{}, err
	}
	return turnResponse{TurnID: turn.ID, Outcome: outcome, Session: view}, nil
}

func wantsEventStream(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("stream")) {
	case "1", "true", "yes":
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
