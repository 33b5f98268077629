package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/protocol"
	"github.com/ent0n29/confidant/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

// handleSessionWS attaches a websocket to a session, creating one when
// session_id is omitted. Turns run concurrently with the read loop so that
// interrupt controls take effect mid-stream.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	var (
		sess session.Session
		err  error
	)
	if sessionID == "" {
		sess = s.sessions.Create(s.convs.StartSession(r.Context()))
		s.metrics.SessionEvent("created", s.sessions.ActiveCount())
	} else {
		sess, err = s.sessions.Get(sessionID)
		if err != nil {
			respondSessionError(w, err)
			return
		}
		if sess.Status != session.StatusActive {
			respondSessionError(w, session.ErrEnded)
			return
		}
	}
	sessionID = sess.ID

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outbound <- msg:
			return nil
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.CountWSWriteError("write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.CountWSMessage("outbound", string(t))
				}
			}
		}
	}()

	_ = send(protocol.SessionStarted{
		Type:      protocol.TypeSessionStarted,
		SessionID: sessionID,
		Key:       sess.Key,
		History:   sess.History,
	})

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	var turns sync.WaitGroup
readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = send(errorEvent(sessionID, "invalid_client_message", err))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.CountWSMessage("inbound", string(t))
		}

		switch msg := parsed.(type) {
		case protocol.UserMessage:
			if msg.SessionID != sessionID {
				_ = send(errorEvent(sessionID, "session_mismatch", errors.New("session_id does not match this connection")))
				continue
			}
			turns.Add(1)
			go func(text string) {
				defer turns.Done()
				s.runWSTurn(ctx, sessionID, text, send)
			}(msg.Text)
		case protocol.ClientControl:
			if msg.SessionID != sessionID {
				_ = send(errorEvent(sessionID, "session_mismatch", errors.New("session_id does not match this connection")))
				continue
			}
			if done := s.applyControl(sessionID, msg.Action, send); done {
				break readLoop
			}
		}
	}

	// A dropped connection abandons any turn it started.
	_, _ = s.sessions.Interrupt(sessionID)
	cancel()
	turns.Wait()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected", s.sessions.ActiveCount())
}

func (s *Server) runWSTurn(ctx context.Context, sessionID, text string, send func(any) error) {
	res, err := s.runTurn(ctx, sessionID, text, func(turnID string, snap conversation.Snapshot) error {
		return send(snapshotEvent(sessionID, turnID, snap))
	})
	if err != nil {
		_ = send(errorEvent(sessionID, sessionErrorCode(err), err))
		return
	}
	_ = send(protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: sessionID,
		TurnID:    res.TurnID,
		Reason:    res.Outcome,
		Key:       res.Session.Key,
	})
}

// applyControl handles one client control and reports whether the
// connection should close.
func (s *Server) applyControl(sessionID, action string, send func(any) error) bool {
	switch action {
	case protocol.ActionInterrupt:
		interrupted, err := s.sessions.Interrupt(sessionID)
		if err != nil {
			_ = send(errorEvent(sessionID, sessionErrorCode(err), err))
			return false
		}
		code := "interrupt_noop"
		if interrupted {
			code = "interrupted"
		}
		_ = send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: code})
	case protocol.ActionClear:
		view, err := s.sessions.Update(sessionID, s.convs.Clear)
		if err != nil {
			_ = send(errorEvent(sessionID, sessionErrorCode(err), err))
			return false
		}
		s.metrics.SessionEvent("cleared", s.sessions.ActiveCount())
		_ = send(protocol.HistorySnapshot{
			Type:      protocol.TypeHistorySnapshot,
			SessionID: sessionID,
			State:     string(view.State),
			Key:       view.Key,
			History:   view.History,
		})
	case protocol.ActionEnd:
		if _, err := s.sessions.End(sessionID); err != nil {
			_ = send(errorEvent(sessionID, sessionErrorCode(err), err))
			return false
		}
		s.metrics.SessionEvent("ended", s.sessions.ActiveCount())
		_ = send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
		return true
	}
	return false
}

// snapshotEvent maps a streaming snapshot to a text delta and every other
// snapshot to a full history snapshot.
func snapshotEvent(sessionID, turnID string, snap conversation.Snapshot) any {
	if snap.Delta != "" {
		return protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: sessionID,
			TurnID:    turnID,
			TextDelta: snap.Delta,
		}
	}
	return protocol.HistorySnapshot{
		Type:      protocol.TypeHistorySnapshot,
		SessionID: sessionID,
		TurnID:    turnID,
		State:     string(snap.State),
		Key:       snap.Key,
		History:   snap.History,
	}
}

func errorEvent(sessionID, code string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: code == "turn_in_flight",
		Detail:    err.Error(),
	}
}

func sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return "session_ended"
	case errors.Is(err, session.ErrTurnInFlight):
		return "turn_in_flight"
	default:
		return "internal"
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionStarted:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.HistorySnapshot:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
