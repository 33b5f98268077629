// Package transcript persists conversation transcripts as named, timestamped
// records and lists them by recency.
package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/confidant/internal/chat"
)

var (
	ErrNotFound   = errors.New("transcript not found")
	ErrInvalidKey = errors.New("invalid transcript key")
)

// RecordInfo identifies one stored record.
type RecordInfo struct {
	Key        string    `json:"key"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Backend is the raw storage behind a Store. Implementations overwrite the
// whole record on Put and report ErrNotFound from Get for unknown keys.
type Backend interface {
	Put(ctx context.Context, key string, msgs []chat.Message) error
	Get(ctx context.Context, key string) ([]chat.Message, error)
	List(ctx context.Context) ([]RecordInfo, error)
	Close() error
}
