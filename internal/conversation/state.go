package conversation

import "github.com/ent0n29/confidant/internal/chat"

type State string

const (
	StateIdle       State = "idle"
	StateMerging    State = "merging"
	StateTrimming   State = "trimming"
	StateStreaming  State = "streaming"
	StatePersisting State = "persisting"
)

// Session is one visible conversation. It is owned by a single caller and
// is not safe for concurrent use; callers serialise turns per session.
type Session struct {
	ID      string      `json:"session_id"`
	Key     string      `json:"key,omitempty"`
	State   State       `json:"state"`
	History []chat.Turn `json:"history"`
}

// Snapshot is the observable view after each step of a turn. History is a
// copy and may be retained by the receiver.
type Snapshot struct {
	State   State       `json:"state"`
	History []chat.Turn `json:"history"`
	// Delta is the fragment that produced this snapshot while streaming.
	Delta string `json:"delta,omitempty"`
	Key   string `json:"key,omitempty"`
	Final bool   `json:"final"`
}

// UpdateFunc receives snapshots. Returning an error abandons the turn.
type UpdateFunc func(Snapshot) error
