package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/conversation"
)

func newConv(id string) *conversation.Session {
	return &conversation.Session{ID: id, State: conversation.StateIdle, History: []chat.Turn{chat.NewTurn("hi", "hello")}}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create(newConv("s1"))
	if s.ID != "s1" || s.Status != StatusActive {
		t.Fatalf("Create() = %+v", s)
	}

	got, err := m.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.History) != 1 || got.History[0].User != "hi" {
		t.Fatalf("History = %+v", got.History)
	}

	ended, err := m.End("s1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.StartTurn(context.Background(), "s1"); !errors.Is(err, ErrEnded) {
		t.Fatalf("StartTurn() after End error = %v, want ErrEnded", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerSerialisesTurns(t *testing.T) {
	m := NewManager(time.Minute)
	m.Create(newConv("s1"))

	turn, err := m.StartTurn(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if _, err := m.StartTurn(context.Background(), "s1"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second StartTurn() error = %v, want ErrTurnInFlight", err)
	}
	if _, err := m.Update("s1", func(*conversation.Session) {}); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("Update() during turn error = %v, want ErrTurnInFlight", err)
	}

	turn.Conversation.History = append(turn.Conversation.History, chat.NewTurn("q", "a"))
	turn.Conversation.Key = "conversation_k"
	before, _ := m.Get("s1")
	if len(before.History) != 1 {
		t.Fatalf("view should not expose an unfinished turn: %+v", before.History)
	}

	if err := m.FinishTurn("s1", turn.ID); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}
	after, _ := m.Get("s1")
	if len(after.History) != 2 || after.Key != "conversation_k" || after.TurnCount != 1 {
		t.Fatalf("after FinishTurn = %+v", after)
	}
	if turn.Ctx.Err() == nil {
		t.Fatalf("turn context should be released")
	}
	if _, err := m.StartTurn(context.Background(), "s1"); err != nil {
		t.Fatalf("StartTurn() after finish error = %v", err)
	}
}

func TestManagerInterruptCancelsTurn(t *testing.T) {
	m := NewManager(time.Minute)
	m.Create(newConv("s1"))

	if ok, err := m.Interrupt("s1"); err != nil || ok {
		t.Fatalf("Interrupt() idle = %v, %v", ok, err)
	}
	turn, err := m.StartTurn(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if ok, err := m.Interrupt("s1"); err != nil || !ok {
		t.Fatalf("Interrupt() = %v, %v", ok, err)
	}
	if !errors.Is(turn.Ctx.Err(), context.Canceled) {
		t.Fatalf("turn context error = %v, want Canceled", turn.Ctx.Err())
	}
	_ = m.FinishTurn("s1", turn.ID)
	got, _ := m.Get("s1")
	if got.InterruptionCount != 1 || got.ActiveTurnID != "" {
		t.Fatalf("unexpected session state: %+v", got)
	}
}

func TestManagerUpdateClearsHistory(t *testing.T) {
	m := NewManager(time.Minute)
	conv := newConv("s1")
	conv.Key = "conversation_k"
	m.Create(conv)

	got, err := m.Update("s1", func(c *conversation.Session) { c.History = []chat.Turn{} })
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(got.History) != 0 || got.Key != "conversation_k" {
		t.Fatalf("Update() = %+v", got)
	}
}

func TestManagerEndKeepsTurnOwnership(t *testing.T) {
	m := NewManager(time.Minute)
	m.Create(newConv("s1"))

	turn, err := m.StartTurn(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	done := make(chan struct{})
	release := make(chan struct{})
	go func() {
		defer close(done)
		<-release
		turn.Conversation.History = append(turn.Conversation.History, chat.NewTurn("late", "write"))
	}()

	if _, err := m.End("s1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if !errors.Is(turn.Ctx.Err(), context.Canceled) {
		t.Fatalf("turn context error = %v, want Canceled", turn.Ctx.Err())
	}
	reset := func(c *conversation.Session) { c.History = nil }
	if _, err := m.Update("s1", reset); !errors.Is(err, ErrEnded) {
		t.Fatalf("Update() after End error = %v, want ErrEnded", err)
	}
	if _, err := m.StartTurn(context.Background(), "s1"); !errors.Is(err, ErrEnded) {
		t.Fatalf("StartTurn() after End error = %v, want ErrEnded", err)
	}

	close(release)
	<-done
	if err := m.FinishTurn("s1", turn.ID); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}
	got, _ := m.Get("s1")
	if got.ActiveTurnID != "" || got.Status != StatusEnded {
		t.Fatalf("unexpected session state: %+v", got)
	}
}

func TestManagerExpiryKeepsTurnOwnership(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	m.Create(newConv("s1"))
	turn, err := m.StartTurn(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.expireInactive()

	if turn.Ctx.Err() == nil {
		t.Fatalf("expiry did not cancel the in-flight turn")
	}
	if _, err := m.Update("s1", func(c *conversation.Session) { c.History = nil }); !errors.Is(err, ErrEnded) {
		t.Fatalf("Update() after expiry error = %v, want ErrEnded", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	m.Create(newConv("s1"))
	turn, err := m.StartTurn(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	expired := make(chan Session, 1)
	m.SetExpireHook(func(s Session) { expired <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case s := <-expired:
		if s.ID != "s1" || s.Status != StatusEnded {
			t.Fatalf("expired session = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session was not expired")
	}
	if turn.Ctx.Err() == nil {
		t.Fatalf("expiry should cancel the in-flight turn")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
