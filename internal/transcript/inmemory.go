package transcript

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ent0n29/confidant/internal/chat"
)

type memoryRecord struct {
	msgs []chat.Message
	at   time.Time
}

// InMemoryBackend is a process-local backend for development and tests.
// Modification times are strictly increasing in write order.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	last    time.Time
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{records: make(map[string]memoryRecord)}
}

func (b *InMemoryBackend) Put(_ context.Context, key string, msgs []chat.Message) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if !now.After(b.last) {
		now = b.last.Add(time.Nanosecond)
	}
	b.last = now
	b.records[key] = memoryRecord{msgs: slices.Clone(msgs), at: now}
	return nil
}

func (b *InMemoryBackend) Get(_ context.Context, key string) ([]chat.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(rec.msgs), nil
}

func (b *InMemoryBackend) List(_ context.Context) ([]RecordInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RecordInfo, 0, len(b.records))
	for key, rec := range b.records {
		out = append(out, RecordInfo{Key: key, ModifiedAt: rec.at})
	}
	return out, nil
}

func (b *InMemoryBackend) Close() error { return nil }
