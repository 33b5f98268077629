package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Turn is one user message and the assistant reply to it.
type Turn struct {
	User      string
	Assistant string

	// malformed marks a turn that was decoded without one of its halves.
	malformed bool
}

// NewTurn returns a well-formed turn.
func NewTurn(user, assistant string) Turn {
	return Turn{User: user, Assistant: assistant}
}

// WellFormed reports whether both halves of the turn are present.
func (t Turn) WellFormed() bool {
	return !t.malformed
}

// MarshalJSON encodes the turn as a ["user","assistant"] pair.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.User, t.Assistant})
}

// UnmarshalJSON accepts a two-element pair or a {"user","assistant"} object.
// Input with a missing or non-text half decodes to a malformed turn rather
// than failing, so one bad entry never poisons a whole history payload.
func (t *Turn) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty turn")
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*t = Turn{malformed: true}
		if len(raw) != 2 {
			return nil
		}
		var user, assistant string
		if json.Unmarshal(raw[0], &user) != nil || json.Unmarshal(raw[1], &assistant) != nil {
			return nil
		}
		*t = Turn{User: user, Assistant: assistant}
		return nil
	case '{':
		var obj struct {
			User      *string `json:"user"`
			Assistant *string `json:"assistant"`
		}
		*t = Turn{malformed: true}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		if obj.User == nil || obj.Assistant == nil {
			return nil
		}
		*t = Turn{User: *obj.User, Assistant: *obj.Assistant}
		return nil
	default:
		*t = Turn{malformed: true}
		return nil
	}
}

// WellFormedOnly returns the well-formed turns of in, preserving order.
func WellFormedOnly(in []Turn) []Turn {
	out := make([]Turn, 0, len(in))
	for _, t := range in {
		if t.WellFormed() {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a copy of the history that shares no backing array with in.
func Clone(in []Turn) []Turn {
	if in == nil {
		return nil
	}
	out := make([]Turn, len(in))
	copy(out, in)
	return out
}
