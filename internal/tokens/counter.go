// Package tokens measures text in model tokens.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// EncodingEstimate selects the character-length estimator instead of a BPE.
const EncodingEstimate = "estimate"

// Counter converts text to a token count. Implementations must be pure:
// the same text always yields the same count.
type Counter interface {
	Count(text string) int
}

var loaderOnce sync.Once

// BPECounter counts tokens with a tiktoken byte-pair encoding.
type BPECounter struct {
	enc *tiktoken.Tiktoken
}

// NewBPECounter loads the named encoding from the embedded ranks, so no
// network access is needed at startup.
func NewBPECounter(encoding string) (*BPECounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &BPECounter{enc: enc}, nil
}

func (c *BPECounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimator approximates tokens as one per four bytes, rounded up.
type Estimator struct{}

func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// New returns the counter for encoding. An unknown or unloadable encoding
// falls back to the Estimator and reports why.
func New(encoding string) (Counter, error) {
	encoding = strings.TrimSpace(encoding)
	if encoding == "" || strings.EqualFold(encoding, EncodingEstimate) {
		return Estimator{}, nil
	}
	c, err := NewBPECounter(encoding)
	if err != nil {
		return Estimator{}, err
	}
	return c, nil
}
