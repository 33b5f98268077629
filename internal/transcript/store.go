package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/policy"
)

const keyPrefix = "conversation_"

type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// RedactPII masks emails, phone and card numbers in persisted text.
	RedactPII bool
}

// Store absorbs every backend failure: errors are logged and counted, and
// callers get an empty key or an empty transcript instead.
type Store struct {
	backend   Backend
	logger    *slog.Logger
	metrics   *observability.Metrics
	redactPII bool
	now       func() time.Time
}

func NewStore(backend Backend, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		logger:    logger.With("component", "transcript"),
		metrics:   opts.Metrics,
		redactPII: opts.RedactPII,
		now:       time.Now,
	}
}

// NewKey mints a record key of the form conversation_YYYYMMDD_HHMMSS_xxxxxxxx.
// The random suffix keeps two sessions started in the same second apart.
func NewKey(now time.Time) string {
	return keyPrefix + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// Save writes the full transcript under key, minting a key when key is
// empty. It returns the key written, or "" when the write failed.
func (s *Store) Save(ctx context.Context, turns []chat.Turn, key string) string {
	if key == "" {
		key = NewKey(s.now())
	}
	msgs := chat.ToMessages(turns)
	if s.redactPII {
		for i := range msgs {
			msgs[i].Content, _ = policy.RedactPII(msgs[i].Content)
		}
	}
	if err := s.backend.Put(ctx, key, msgs); err != nil {
		s.logger.Error("save transcript failed", "key", key, "err", err)
		s.metrics.CountPersistenceError("save")
		return ""
	}
	s.logger.Debug("transcript saved", "key", key, "turns", len(msgs)/2)
	return key
}

// Load returns the turns stored under key. Missing, unreadable and malformed
// records all yield an empty transcript.
func (s *Store) Load(ctx context.Context, key string) []chat.Turn {
	msgs, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("transcript not found", "key", key)
		} else {
			s.logger.Error("load transcript failed", "key", key, "err", err)
		}
		s.metrics.CountPersistenceError("load")
		return []chat.Turn{}
	}
	turns, err := chat.FromMessages(msgs)
	if err != nil {
		s.logger.Warn("dropping malformed transcript", "key", key, "err", err)
		s.metrics.CountPersistenceError("decode")
		return []chat.Turn{}
	}
	return turns
}

// Get is Load for callers that need to tell a missing or broken record from
// an empty one.
func (s *Store) Get(ctx context.Context, key string) ([]chat.Turn, error) {
	msgs, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	turns, err := chat.FromMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return turns, nil
}

// Recent returns record infos newest first, truncated to limit. A
// non-positive limit returns everything.
func (s *Store) Recent(ctx context.Context, limit int) []RecordInfo {
	infos, err := s.backend.List(ctx)
	if err != nil {
		s.logger.Error("list transcripts failed", "err", err)
		s.metrics.CountPersistenceError("list")
		return nil
	}
	slices.SortStableFunc(infos, func(a, b RecordInfo) int {
		if c := b.ModifiedAt.Compare(a.ModifiedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos
}

// ListRecent returns record keys newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) []string {
	infos := s.Recent(ctx, limit)
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys
}

func (s *Store) Close() error {
	return s.backend.Close()
}
