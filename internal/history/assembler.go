// Package history rebuilds recent context from stored transcripts and merges
// it with the live session.
package history

import (
	"context"

	"github.com/ent0n29/confidant/internal/chat"
)

// DefaultRecentLimit bounds both how many records are read and how many
// turns are kept.
const DefaultRecentLimit = 30

// Source is the read side of a transcript store.
type Source interface {
	ListRecent(ctx context.Context, limit int) []string
	Load(ctx context.Context, key string) []chat.Turn
}

type Assembler struct {
	source Source
}

func NewAssembler(source Source) *Assembler {
	return &Assembler{source: source}
}

// AssembleRecentContext reads up to limit of the most recently modified
// records, concatenates their turns in that recency order and keeps the last
// limit well-formed turns. The result is not a chronological merge: the
// newest record's turns come first.
func (a *Assembler) AssembleRecentContext(ctx context.Context, limit int) []chat.Turn {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var all []chat.Turn
	for _, key := range a.source.ListRecent(ctx, limit) {
		all = append(all, a.source.Load(ctx, key)...)
	}
	all = chat.WellFormedOnly(all)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// MergeWithSession places stored context before the session's own turns and
// drops malformed entries from both.
func MergeWithSession(stored, session []chat.Turn) []chat.Turn {
	merged := make([]chat.Turn, 0, len(stored)+len(session))
	merged = append(merged, stored...)
	merged = append(merged, session...)
	return chat.WellFormedOnly(merged)
}
