package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/completion"
	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/history"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/profile"
	"github.com/ent0n29/confidant/internal/protocol"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/tokens"
	"github.com/ent0n29/confidant/internal/transcript"
	"github.com/ent0n29/confidant/internal/window"
)

type testEnv struct {
	ts    *httptest.Server
	srv   *Server
	store *transcript.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		CompletionMode:           "mock",
		TranscriptBackend:        "memory",
	}
	metrics := observability.NewMetrics("test_httpapi")
	store := transcript.NewStore(transcript.NewInMemoryBackend(), transcript.Options{Metrics: metrics})
	counter := tokens.Estimator{}
	client := completion.NewClient(completion.NewMockAdapter(), counter, completion.ClientConfig{
		Model:            "mock",
		ResponseTokenCap: 2000,
		RequestBudget:    4000,
	}, nil, metrics)
	controller := conversation.NewController(conversation.Options{
		Assembler:  history.NewAssembler(store),
		Store:      store,
		Trimmer:    window.NewTrimmer(counter),
		Builder:    window.NewPromptBuilder(counter, window.DefaultMaxHistoryItems),
		Completion: client,
		Profile:    profile.Default(),
		Metrics:    metrics,
	}, conversation.Config{HistoryBudget: 2000, RequestBudget: 4000})

	srv := New(cfg, Deps{
		Sessions:      session.NewManager(cfg.SessionInactivityTimeout),
		Conversations: controller,
		Transcripts:   store,
		Metrics:       metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, srv: srv, store: store}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	res, err := http.Post(e.ts.URL+path, "application/json", r)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (e *testEnv) createSession(t *testing.T) session.Session {
	t.Helper()
	res := e.post(t, "/v1/chat/session", nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	sess := decode[session.Session](t, res)
	require.NotEmpty(t, sess.ID)
	return sess
}

func TestSubmitMessageRunsTurnAndPersists(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)
	assert.Empty(t, sess.History)

	res := env.post(t, "/v1/chat/session/"+sess.ID+"/messages", submitRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decode[turnResponse](t, res)

	assert.Equal(t, protocol.ReasonCompleted, got.Outcome)
	require.Len(t, got.Session.History, 1)
	assert.Equal(t, "hello", got.Session.History[0].User)
	assert.Equal(t, "I heard you: hello", got.Session.History[0].Assistant)
	assert.NotEmpty(t, got.Session.Key)
	assert.Equal(t, 1, got.Session.TurnCount)

	list := env.get(t, "/v1/transcripts")
	require.Equal(t, http.StatusOK, list.StatusCode)
	infos := decode[struct {
		Transcripts []transcript.RecordInfo `json:"transcripts"`
	}](t, list)
	require.Len(t, infos.Transcripts, 1)
	assert.Equal(t, got.Session.Key, infos.Transcripts[0].Key)

	rec := env.get(t, "/v1/transcripts/"+got.Session.Key)
	require.Equal(t, http.StatusOK, rec.StatusCode)
	body := decode[struct {
		History []chat.Turn `json:"history"`
	}](t, rec)
	assert.Equal(t, got.Session.History, body.History)
}

func TestBlankMessageIsNoop(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)

	res := env.post(t, "/v1/chat/session/"+sess.ID+"/messages", submitRequest{Text: "   "})
	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decode[turnResponse](t, res)
	assert.Equal(t, protocol.ReasonNoop, got.Outcome)
	assert.Empty(t, got.Session.History)
	assert.Empty(t, env.store.Recent(context.Background(), 0))
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/v1/chat/session/missing").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.post(t, "/v1/chat/session/missing/messages", submitRequest{Text: "hi"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/v1/chat/session/missing/messages", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/v1/transcripts/nope").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/v1/transcripts?limit=-1").StatusCode)

	sess := env.createSession(t)
	require.Equal(t, http.StatusOK, env.post(t, "/v1/chat/session/"+sess.ID+"/end", nil).StatusCode)
	assert.Equal(t, http.StatusGone, env.post(t, "/v1/chat/session/"+sess.ID+"/messages", submitRequest{Text: "hi"}).StatusCode)
}

func TestClearKeepsKey(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)
	first := decode[turnResponse](t, env.post(t, "/v1/chat/session/"+sess.ID+"/messages", submitRequest{Text: "one"}))

	res := env.post(t, "/v1/chat/session/"+sess.ID+"/clear", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	cleared := decode[session.Session](t, res)
	assert.Empty(t, cleared.History)
	assert.Equal(t, first.Session.Key, cleared.Key)

	interrupt := env.post(t, "/v1/chat/session/"+sess.ID+"/interrupt", nil)
	require.Equal(t, http.StatusOK, interrupt.StatusCode)
	assert.Equal(t, map[string]bool{"interrupted": false}, decode[map[string]bool](t, interrupt))
}

func TestRunTurnReportsCompletedWhenFinalEventFails(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)

	res, err := env.srv.runTurn(context.Background(), sess.ID, "hello", func(_ string, snap conversation.Snapshot) error {
		if snap.Final {
			return io.ErrClosedPipe
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.ReasonCompleted, res.Outcome)
	require.Len(t, res.Session.History, 1)
	assert.Equal(t, []string{res.Session.Key}, env.store.ListRecent(context.Background(), 0))
}

func TestSubmitMessageEventStream(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)

	res := env.post(t, "/v1/chat/session/"+sess.ID+"/messages?stream=true", submitRequest{Text: "hello there"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "event: assistant_text_delta")
	assert.Contains(t, body, "event: history_snapshot")
	assert.Contains(t, body, "event: assistant_turn_end")
	assert.Less(t, strings.Index(body, "assistant_text_delta"), strings.Index(body, "assistant_turn_end"))
}

func TestDiagnosticsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t)
	env.post(t, "/v1/chat/session/"+sess.ID+"/messages", submitRequest{Text: "hello"})

	assert.Equal(t, http.StatusOK, env.get(t, "/healthz").StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/readyz").StatusCode)

	perf := decode[observability.TurnStageSnapshot](t, env.get(t, "/v1/perf/latency"))
	stages := map[string]bool{}
	for _, s := range perf.Stages {
		stages[s.Stage] = true
	}
	assert.True(t, stages["turn_total"])
	assert.True(t, stages["trim"])

	p := decode[profile.Profile](t, env.get(t, "/v1/profile"))
	assert.Equal(t, profile.Default().Name, p.Name)

	raw, err := io.ReadAll(env.get(t, "/metrics").Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "test_httpapi_turns_total")
}

func readUntil(t *testing.T, conn *websocket.Conn, want protocol.MessageType) []map[string]any {
	t.Helper()
	var seen []map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg)
		if msg["type"] == string(want) {
			return seen
		}
	}
}

func TestWebSocketTurn(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/chat/session/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	started := readUntil(t, conn, protocol.TypeSessionStarted)
	sessionID, _ := started[len(started)-1]["session_id"].(string)
	require.NotEmpty(t, sessionID)

	require.NoError(t, conn.WriteJSON(protocol.UserMessage{
		Type:      protocol.TypeUserMessage,
		SessionID: sessionID,
		Text:      "hello",
	}))
	msgs := readUntil(t, conn, protocol.TypeAssistantTurnEnd)

	var reply strings.Builder
	for _, m := range msgs {
		if m["type"] == string(protocol.TypeAssistantTextDelta) {
			reply.WriteString(m["text_delta"].(string))
		}
	}
	assert.Equal(t, "I heard you: hello", reply.String())
	assert.Equal(t, protocol.ReasonCompleted, msgs[len(msgs)-1]["reason"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	errs := readUntil(t, conn, protocol.TypeErrorEvent)
	assert.Equal(t, "invalid_client_message", errs[len(errs)-1]["code"])

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionClear,
	}))
	cleared := readUntil(t, conn, protocol.TypeHistorySnapshot)
	assert.Empty(t, cleared[len(cleared)-1]["history"])
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/chat/session/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
