// Package window fits conversation history into token budgets: Trimmer bounds
// the replayed history and PromptBuilder bounds the outgoing request.
package window

import (
	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/tokens"
)

// TurnCost is the token cost of both halves of a turn.
func TurnCost(counter tokens.Counter, t chat.Turn) int {
	return counter.Count(t.User) + counter.Count(t.Assistant)
}

type TrimResult struct {
	Turns  []chat.Turn
	Tokens int
}

type Trimmer struct {
	counter tokens.Counter
}

func NewTrimmer(counter tokens.Counter) *Trimmer {
	return &Trimmer{counter: counter}
}

// Trim returns the longest suffix of history whose cost fits budget. It walks
// newest to oldest and stops at the first turn that would overflow, so an
// older, smaller turn is never kept once a newer one did not fit. Malformed
// turns are skipped without cost.
func (t *Trimmer) Trim(history []chat.Turn, budget int) TrimResult {
	var (
		kept  []chat.Turn
		total int
	)
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if !turn.WellFormed() {
			continue
		}
		cost := TurnCost(t.counter, turn)
		if total+cost > budget {
			break
		}
		kept = append(kept, turn)
		total += cost
	}
	// reverse back to oldest first
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	if kept == nil {
		kept = []chat.Turn{}
	}
	return TrimResult{Turns: kept, Tokens: total}
}
