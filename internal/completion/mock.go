package completion

import (
	"context"
	"strings"

	"github.com/ent0n29/confidant/internal/chat"
)

// MockAdapter replies deterministically without a network, streaming the
// reply one word at a time.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	words := strings.Fields(buildMockReply(req))
	var out strings.Builder
	for i, w := range words {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		if i > 0 {
			w = " " + w
		}
		out.WriteString(w)
		if onDelta != nil {
			if err := onDelta(w); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: out.String()}, nil
}

func buildMockReply(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role == chat.RoleUser && strings.TrimSpace(m.Content) != "" {
			return "I heard you: " + strings.TrimSpace(m.Content)
		}
	}
	return "I am listening."
}
