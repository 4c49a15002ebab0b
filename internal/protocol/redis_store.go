package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDocumentStore shares raw protocol documents between processes.
type RedisDocumentStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDocumentStore stores documents under prefix+targetID.
func NewRedisDocumentStore(client redis.UniversalClient, prefix string) (*RedisDocumentStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "processmcp:protocol:"
	}
	return &RedisDocumentStore{client: client, prefix: prefix}, nil
}

// Load returns the stored document of targetID.
func (s *RedisDocumentStore) Load(ctx context.Context, targetID string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+targetID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load protocol document: %w", err)
	}
	return raw, true, nil
}

// Save writes raw with the given expiry.
func (s *RedisDocumentStore) Save(ctx context.Context, targetID string, raw []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+targetID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save protocol document: %w", err)
	}
	return nil
}

// Clear removes every document under the store prefix.
func (s *RedisDocumentStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan protocol documents: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete protocol documents: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
