package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrMalformedRecord is returned when a stored message sequence does not
// alternate user/assistant, has an unmatched trailing message, or has a
// message without content.
var ErrMalformedRecord = errors.New("malformed transcript record")

// Message is a role-tagged chat message as persisted and as sent upstream.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// noContent marks a decoded message whose content was absent or null.
	noContent bool
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role    `json:"role"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{Role: raw.Role, noContent: raw.Content == nil}
	if raw.Content != nil {
		m.Content = *raw.Content
	}
	return nil
}

// ToMessages flattens turns into alternating user/assistant messages.
// Malformed turns are skipped so the result always has even length.
func ToMessages(turns []Turn) []Message {
	out := make([]Message, 0, 2*len(turns))
	for _, t := range turns {
		if !t.WellFormed() {
			continue
		}
		out = append(out,
			Message{Role: RoleUser, Content: t.User},
			Message{Role: RoleAssistant, Content: t.Assistant},
		)
	}
	return out
}

// FromMessages rebuilds turns from a persisted record. The record must be a
// strict user, assistant, user, assistant, ... sequence; anything else is
// rejected whole.
func FromMessages(msgs []Message) ([]Turn, error) {
	if len(msgs)%2 != 0 {
		return nil, fmt.Errorf("%w: odd message count %d", ErrMalformedRecord, len(msgs))
	}
	out := make([]Turn, 0, len(msgs)/2)
	for i := 0; i < len(msgs); i += 2 {
		u, a := msgs[i], msgs[i+1]
		if u.Role != RoleUser || a.Role != RoleAssistant {
			return nil, fmt.Errorf("%w: unexpected roles %q,%q at %d", ErrMalformedRecord, u.Role, a.Role, i)
		}
		if u.noContent || a.noContent {
			return nil, fmt.Errorf("%w: missing content at %d", ErrMalformedRecord, i)
		}
		out = append(out, NewTurn(u.Content, a.Content))
	}
	return out, nil
}
