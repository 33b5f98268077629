package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/policy"
	"github.com/ent0n29/confidant/internal/tokens"
)

type ClientConfig struct {
	Model            string
	ResponseTokenCap int
	RequestBudget    int
}

// Client turns provider failures into reply text. A turn always gets
// something to show: either the streamed reply or one explanatory fragment.
type Client struct {
	adapter Adapter
	counter tokens.Counter
	cfg     ClientConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewClient(adapter Adapter, counter tokens.Counter, cfg ClientConfig, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		adapter: adapter,
		counter: counter,
		cfg:     cfg,
		logger:  logger.With("component", "completion"),
		metrics: metrics,
	}
}

// StreamCompletion sends msgs and forwards reply fragments in arrival order.
// Configuration, status and transport failures are reported as a single
// final fragment and a nil error. It returns an error only when ctx is done
// or onFragment rejects a fragment; nothing is emitted after that.
func (c *Client) StreamCompletion(ctx context.Context, msgs []chat.Message, onFragment DeltaHandler) error {
	req := NewRequest(c.counter, c.cfg.Model, msgs, c.cfg.ResponseTokenCap, c.cfg.RequestBudget)

	var stopErr error
	_, err := c.adapter.StreamResponse(ctx, req, func(delta string) error {
		if err := onFragment(delta); err != nil {
			stopErr = err
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if stopErr != nil {
		return stopErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	kind, text := describeFailure(err)
	c.logger.Warn("completion failed", "kind", kind, "err", policy.RedactSecrets(err.Error()))
	c.metrics.CountCompletionError(kind)
	return onFragment(text)
}

func describeFailure(err error) (kind, text string) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "configuration", fmt.Sprintf("[configuration error] %s is not set; add it to the environment or a .env file", CredentialEnv)
	case errors.As(err, &statusErr):
		return "status", fmt.Sprintf("[API error] status code: %d", statusErr.StatusCode)
	default:
		return "connection", "[connection error] " + policy.RedactSecrets(err.Error())
	}
}
