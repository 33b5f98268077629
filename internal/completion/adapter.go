// Package completion streams replies from an OpenAI-compatible chat
// completions endpoint.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/tokens"
)

// CredentialEnv names the environment variable holding the provider key.
const CredentialEnv = "DEEPSEEK_API_KEY"

// ErrMissingCredential is returned before any network call when no API key
// is configured.
var ErrMissingCredential = errors.New("completion API key is not configured")

// StatusError reports a non-success HTTP status from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion endpoint status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion endpoint status %d: %s", e.StatusCode, e.Body)
}

// Request is the outgoing chat completions body.
type Request struct {
	Model     string         `json:"model"`
	Messages  []chat.Message `json:"messages"`
	Stream    bool           `json:"stream"`
	MaxTokens int            `json:"max_tokens"`
}

// NewRequest sizes max_tokens as min(responseCap, requestBudget - cost of the
// serialised messages), never below 1.
func NewRequest(counter tokens.Counter, model string, msgs []chat.Message, responseCap, requestBudget int) Request {
	return Request{
		Model:     model,
		Messages:  msgs,
		Stream:    true,
		MaxTokens: MaxResponseTokens(counter, msgs, responseCap, requestBudget),
	}
}

func MaxResponseTokens(counter tokens.Counter, msgs []chat.Message, responseCap, requestBudget int) int {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return max(1, responseCap)
	}
	return max(1, min(responseCap, requestBudget-counter.Count(string(raw))))
}

// Response is the full reply once the stream ends.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streamed text fragments. Returning an error stops
// the stream.
type DeltaHandler func(delta string) error

// Adapter talks to one completion endpoint.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config selects and configures adapters.
type Config struct {
	Mode         string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	StreamStrict bool

	FallbackBaseURL string
	FallbackAPIKey  string
	FallbackModel   string
}

// NewAdapter builds the configured adapter. "auto" and "openai" use the
// openai-go SDK. A configured fallback endpoint wraps the primary.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	var primary Adapter
	switch mode {
	case "", "auto", "openai":
		primary = NewOpenAIAdapter(cfg.BaseURL, cfg.APIKey, cfg.MaxRetries)
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("completion base url is required for http mode")
		}
		primary = NewHTTPAdapter(HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Strict:     cfg.StreamStrict,
		})
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}

	if strings.TrimSpace(cfg.FallbackBaseURL) == "" {
		return primary, nil
	}
	secondary := NewHTTPAdapter(HTTPOptions{
		BaseURL:    cfg.FallbackBaseURL,
		APIKey:     cfg.FallbackAPIKey,
		Model:      cfg.FallbackModel,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Strict:     cfg.StreamStrict,
	})
	return NewFallbackAdapter(primary, secondary), nil
}
