package keystore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// redisKey is where the serialized key window lives in the shared cache.
const redisKey = "keyline:signing-keys"

// RedisStore persists the key window in the shared redis cache so a
// restarted process resumes with the same signing material instead of
// invalidating every outstanding session.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a SecretStore over an established redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// LoadKeys retrieves the key window, or (nil, nil) when absent.
func (s *RedisStore) LoadKeys(ctx context.Context) (*KeyRecord, error) {
	data, err := s.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec KeyRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		// Corrupt data is unrecoverable; drop it and start fresh.
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return &rec, nil
}

// SaveKeys stores the key window without expiry; rotation overwrites it.
func (s *RedisStore) SaveKeys(ctx context.Context, rec *KeyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
