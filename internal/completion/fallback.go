package completion

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter tries primary first and switches to secondary only when
// primary fails before streaming anything, so a reply is never stitched
// together from two providers.
type FallbackAdapter struct {
	primary   Adapter
	secondary Adapter
}

func NewFallbackAdapter(primary, secondary Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, secondary: secondary}
}

func (a *FallbackAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if a.primary == nil {
		if a.secondary == nil {
			return Response{}, errors.New("fallback adapter misconfigured")
		}
		return a.secondary.StreamResponse(ctx, req, onDelta)
	}

	streamed := false
	resp, err := a.primary.StreamResponse(ctx, req, func(delta string) error {
		streamed = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil || streamed || a.secondary == nil {
		return resp, err
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return Response{}, err
	}

	resp, fbErr := a.secondary.StreamResponse(ctx, req, onDelta)
	if fbErr != nil {
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fbErr)
	}
	return resp, nil
}
