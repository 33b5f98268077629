package history

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/confidant/internal/chat"
)

type fakeSource struct {
	order   []string
	records map[string][]chat.Turn
	listed  int
}

func (f *fakeSource) ListRecent(_ context.Context, limit int) []string {
	f.listed = limit
	if limit > 0 && len(f.order) > limit {
		return f.order[:limit]
	}
	return f.order
}

func (f *fakeSource) Load(_ context.Context, key string) []chat.Turn {
	return f.records[key]
}

func turns(prefix string, n int) []chat.Turn {
	out := make([]chat.Turn, n)
	for i := range out {
		out[i] = chat.NewTurn(fmt.Sprintf("%s-u%d", prefix, i), fmt.Sprintf("%s-a%d", prefix, i))
	}
	return out
}

func TestAssembleRecentContextFlattensInRecencyOrder(t *testing.T) {
	src := &fakeSource{
		order: []string{"newest", "older"},
		records: map[string][]chat.Turn{
			"newest": turns("n", 2),
			"older":  turns("o", 2),
		},
	}
	got := NewAssembler(src).AssembleRecentContext(context.Background(), 30)

	require.Len(t, got, 4)
	assert.Equal(t, "n-u0", got[0].User)
	assert.Equal(t, "o-u1", got[3].User)
	assert.Equal(t, 30, src.listed)
}

func TestAssembleRecentContextKeepsLastLimitTurns(t *testing.T) {
	src := &fakeSource{
		order:   []string{"a", "b"},
		records: map[string][]chat.Turn{"a": turns("a", 3), "b": turns("b", 3)},
	}
	got := NewAssembler(src).AssembleRecentContext(context.Background(), 4)

	require.Len(t, got, 4)
	assert.Equal(t, "a-u2", got[0].User)
	assert.Equal(t, "b-u2", got[3].User)
}

func TestAssembleRecentContextDefaultsLimit(t *testing.T) {
	src := &fakeSource{}
	got := NewAssembler(src).AssembleRecentContext(context.Background(), 0)
	assert.Empty(t, got)
	assert.Equal(t, DefaultRecentLimit, src.listed)
}

func TestMergeWithSessionDropsMalformed(t *testing.T) {
	var broken chat.Turn
	require.NoError(t, json.Unmarshal([]byte(`["only user"]`), &broken))
	require.False(t, broken.WellFormed())

	stored := []chat.Turn{chat.NewTurn("s", "1"), broken}
	session := []chat.Turn{chat.NewTurn("live", "2")}

	got := MergeWithSession(stored, session)
	assert.Equal(t, []chat.Turn{chat.NewTurn("s", "1"), chat.NewTurn("live", "2")}, got)
	assert.Len(t, stored, 2, "inputs must not be modified")
}
