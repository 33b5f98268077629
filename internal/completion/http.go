package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/confidant/internal/reliability"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
)

type HTTPOptions struct {
	BaseURL string
	APIKey  string
	// Model overrides the request model when set.
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// Strict fails the stream on an undecodable data line instead of
	// skipping it.
	Strict bool
}

// HTTPAdapter speaks the chat completions SSE protocol directly.
type HTTPAdapter struct {
	opts   HTTPOptions
	client *http.Client
}

func NewHTTPAdapter(opts HTTPOptions) *HTTPAdapter {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	return &HTTPAdapter{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if strings.TrimSpace(a.opts.APIKey) == "" {
		return Response{}, ErrMissingCredential
	}
	if a.opts.Model != "" {
		req.Model = a.opts.Model
	}
	req.Stream = true

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	res, err := a.send(ctx, payload)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()
	return a.consume(res.Body, onDelta)
}

// send posts the request, retrying transient failures until a response
// starts streaming.
func (a *HTTPAdapter) send(ctx context.Context, payload []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+a.opts.APIKey)

		res, err := a.client.Do(httpReq)
		retry := attempt < a.opts.MaxRetries
		switch {
		case err != nil:
			if !retry || !reliability.IsRetryableError(err) {
				return nil, fmt.Errorf("send request: %w", err)
			}
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return res, nil
		default:
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			res.Body.Close()
			if !retry || !reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
			}
		}
		if err := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)); err != nil {
			return nil, err
		}
	}
}

func (a *HTTPAdapter) consume(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if a.opts.Strict {
				return Response{}, fmt.Errorf("decode stream chunk: %w", err)
			}
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: out.String()}, nil
}
