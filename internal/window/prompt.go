package window

import (
	"fmt"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/profile"
	"github.com/ent0n29/confidant/internal/tokens"
)

// DefaultMaxHistoryItems caps how many trailing turns a prompt may replay.
const DefaultMaxHistoryItems = 20

const personaTemplate = `You are talking with %s:
	Age: %d
	Profession: %s
	Interests: %s`

// Prompt is the ordered message list for one completion request.
type Prompt struct {
	Messages []chat.Message
	// Tokens is the counted cost of Messages.
	Tokens int
	// NewMessageIncluded is false when the new user message did not fit the
	// request budget and was left out.
	NewMessageIncluded bool
}

type PromptBuilder struct {
	counter  tokens.Counter
	maxItems int
}

func NewPromptBuilder(counter tokens.Counter, maxItems int) *PromptBuilder {
	if maxItems <= 0 {
		maxItems = DefaultMaxHistoryItems
	}
	return &PromptBuilder{counter: counter, maxItems: maxItems}
}

// SystemMessage renders the persona preamble for p.
func SystemMessage(p profile.Profile) chat.Message {
	return chat.Message{
		Role:    chat.RoleSystem,
		Content: fmt.Sprintf(personaTemplate, p.Name, p.Age, p.Profession, p.InterestsLine()),
	}
}

// Build assembles system, replayed history and the new message under
// requestBudget. The system message is always first and always present even
// when it alone exceeds the budget. History turns are taken from the last
// maxItems and walked oldest to newest; the first one that overflows ends the
// walk. The new message is appended only when it fits strictly inside what
// is left.
func (b *PromptBuilder) Build(history []chat.Turn, p profile.Profile, newMessage string, requestBudget int) Prompt {
	system := SystemMessage(p)
	msgs := []chat.Message{system}
	running := b.counter.Count(system.Content)

	tail := history
	if len(tail) > b.maxItems {
		tail = tail[len(tail)-b.maxItems:]
	}
	for _, turn := range tail {
		if !turn.WellFormed() {
			continue
		}
		cost := TurnCost(b.counter, turn)
		if running+cost > requestBudget {
			break
		}
		msgs = append(msgs,
			chat.Message{Role: chat.RoleUser, Content: turn.User},
			chat.Message{Role: chat.RoleAssistant, Content: turn.Assistant},
		)
		running += cost
	}

	included := false
	if cost := b.counter.Count(newMessage); cost+running < requestBudget {
		msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: newMessage})
		running += cost
		included = true
	}
	return Prompt{Messages: msgs, Tokens: running, NewMessageIncluded: included}
}
