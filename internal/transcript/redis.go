package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/confidant/internal/chat"
)

const (
	redisKeyPrefix = "transcript:"
	redisRecentSet = "transcripts:recent"
)

// RedisBackend stores each record as a string value and indexes keys in a
// sorted set scored by modification time in milliseconds.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, msgs []chat.Message) error {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	val, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	now := time.Now()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+key, val, 0)
		pipe.ZAdd(ctx, redisRecentSet, redis.Z{Score: float64(now.UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]chat.Message, error) {
	val, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(val, &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", key, err)
	}
	return msgs, nil
}

func (b *RedisBackend) List(ctx context.Context) ([]RecordInfo, error) {
	zs, err := b.client.ZRevRangeWithScores(ctx, redisRecentSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	infos := make([]RecordInfo, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		infos = append(infos, RecordInfo{Key: key, ModifiedAt: time.UnixMilli(int64(z.Score))})
	}
	return infos, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
