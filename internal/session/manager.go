// Package session tracks live conversation sessions and serialises turns so
// each session has at most one completion stream in flight.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/conversation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrEnded        = errors.New("session ended")
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// Session is a read-only view of a live session. History reflects the last
// completed turn; it does not include a turn that is still streaming.
type Session struct {
	ID                string             `json:"session_id"`
	Status            Status             `json:"status"`
	State             conversation.State `json:"state"`
	Key               string             `json:"key,omitempty"`
	History           []chat.Turn        `json:"history"`
	ActiveTurnID      string             `json:"active_turn_id,omitempty"`
	TurnCount         int                `json:"turn_count"`
	InterruptionCount int                `json:"interruption_count"`
	StartedAt         time.Time          `json:"started_at"`
	LastActivityAt    time.Time          `json:"last_activity_at"`
	InactivityTTLMS   int64              `json:"inactivity_ttl_ms"`
}

// Turn grants exclusive access to a session's conversation until
// FinishTurn is called with its ID.
type Turn struct {
	ID           string
	Ctx          context.Context
	Conversation *conversation.Session
}

type entry struct {
	view Session
	conv *conversation.Session
	// owner is the turn holding conv. Only FinishTurn releases it, so an
	// ended session stays claimed until its last turn has returned.
	owner  string
	cancel context.CancelFunc
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers conv. Its ID becomes the session ID.
func (m *Manager) Create(conv *conversation.Session) Session {
	now := time.Now().UTC()
	e := &entry{
		conv: conv,
		view: Session{
			ID:              conv.ID,
			Status:          StatusActive,
			StartedAt:       now,
			LastActivityAt:  now,
			InactivityTTLMS: m.inactivityTimeout.Milliseconds(),
		},
	}
	e.sync()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[conv.ID] = e
	return e.snapshot()
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// StartTurn claims the session for one turn. The returned context is
// cancelled by Interrupt, End, expiry or cancellation of parent.
func (m *Manager) StartTurn(parent context.Context, sessionID string) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Turn{}, ErrNotFound
	}
	if e.view.Status != StatusActive {
		return Turn{}, ErrEnded
	}
	if e.owner != "" {
		return Turn{}, ErrTurnInFlight
	}
	ctx, cancel := context.WithCancel(parent)
	turnID := uuid.NewString()
	e.cancel = cancel
	e.owner = turnID
	e.view.ActiveTurnID = turnID
	e.view.LastActivityAt = time.Now().UTC()
	return Turn{ID: turnID, Ctx: ctx, Conversation: e.conv}, nil
}

// FinishTurn releases the session and publishes the conversation's new
// history and key. A stale turnID is ignored.
func (m *Manager) FinishTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.owner != turnID {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.owner = ""
	e.view.ActiveTurnID = ""
	e.view.TurnCount++
	e.view.LastActivityAt = time.Now().UTC()
	e.sync()
	return nil
}

// Interrupt cancels the in-flight turn, if any. It reports whether a turn
// was cancelled.
func (m *Manager) Interrupt(sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	e.view.LastActivityAt = time.Now().UTC()
	if e.cancel == nil {
		return false, nil
	}
	e.cancel()
	e.view.InterruptionCount++
	return true, nil
}

// Update applies fn to the conversation of an active session while no turn
// is in flight.
func (m *Manager) Update(sessionID string, fn func(*conversation.Session)) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if e.view.Status != StatusActive {
		return Session{}, ErrEnded
	}
	if e.owner != "" {
		return Session{}, ErrTurnInFlight
	}
	fn(e.conv)
	e.view.LastActivityAt = time.Now().UTC()
	e.sync()
	return e.snapshot(), nil
}

func (m *Manager) End(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	e.end(time.Now().UTC())
	return e.snapshot(), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.view.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that have been
// ended for longer than the inactivity timeout.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []Session

	m.mu.Lock()
	for id, e := range m.sessions {
		idle := now.Sub(e.view.LastActivityAt)
		if e.view.Status == StatusEnded {
			if idle >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		e.end(now)
		expired = append(expired, e.snapshot())
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (e *entry) end(now time.Time) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.view.Status = StatusEnded
	e.view.ActiveTurnID = ""
	e.view.LastActivityAt = now
}

// sync copies the conversation into the view. Callers hold the manager lock
// and no turn is using the conversation.
func (e *entry) sync() {
	e.view.Key = e.conv.Key
	e.view.State = e.conv.State
	e.view.History = chat.Clone(e.conv.History)
}

func (e *entry) snapshot() Session {
	s := e.view
	s.History = chat.Clone(e.view.History)
	if s.History == nil {
		s.History = []chat.Turn{}
	}
	return s
}
