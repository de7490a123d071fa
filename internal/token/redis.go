// Copyright 2026 The Keyline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	tokKeyPrefix  = "keyline:rt:tok:"
	devKeyPrefix  = "keyline:rt:dev:"
	userKeyPrefix = "keyline:rt:usr:"
)

// RedisStore is the Store implementation over the shared cache. Expiry
// is TTL-native: the cache evicts expired tokens itself, and revoked
// records are re-written with the grace-window TTL so replays are
// distinguishable from misses until the window closes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a token store over an established redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokKey(token string) string            { return tokKeyPrefix + token }
func devKey(userID, deviceID string) string { return devKeyPrefix + userID + ":" + deviceID }
func userKey(userID string) string          { return userKeyPrefix + userID }

// Create issues a new token, revoking the device's prior one first.
func (s *RedisStore) Create(ctx context.Context, params CreateParams) (*RefreshToken, error) {
	rec, err := newRecord(params)
	if err != nil {
		return nil, err
	}

	// Single active session per device: the old token dies before the
	// new one is linked.
	prior, err := s.client.Get(ctx, devKey(params.UserID, params.DeviceID)).Result()
	if err == nil && prior != "" {
		if err := s.Revoke(ctx, prior); err != nil && err != ErrTokenNotFound && err != ErrTokenReused {
			return nil, err
		}
	} else if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh token: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokKey(rec.Token), data, ttl)
	pipe.Set(ctx, devKey(rec.UserID, rec.DeviceID), rec.Token, ttl)
	pipe.SAdd(ctx, userKey(rec.UserID), rec.Token)
	pipe.Expire(ctx, userKey(rec.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	return rec, nil
}

// FindByToken returns the active record for token. Revocation and expiry
// are re-checked even though the cache's own TTL should have evicted
// stale entries.
func (s *RedisStore) FindByToken(ctx context.Context, tok string) (*RefreshToken, error) {
	data, err := s.client.Get(ctx, tokKey(tok)).Result()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec RefreshToken
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		s.client.Del(ctx, tokKey(tok))
		return nil, ErrTokenNotFound
	}
	if rec.Revoked {
		return nil, ErrTokenReused
	}
	if rec.IsExpired() {
		return nil, ErrTokenNotFound
	}
	return &rec, nil
}

// FindByUserAndDevice returns the device's active token, if any.
func (s *RedisStore) FindByUserAndDevice(ctx context.Context, userID, deviceID string) (*RefreshToken, error) {
	tok, err := s.client.Get(ctx, devKey(userID, deviceID)).Result()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return s.FindByToken(ctx, tok)
}

// Revoke marks a token revoked, unlinks its indexes, and keeps the
// revoked record readable for the reuse grace window.
func (s *RedisStore) Revoke(ctx context.Context, tok string) error {
	data, err := s.client.Get(ctx, tokKey(tok)).Result()
	if err == redis.Nil {
		return ErrTokenNotFound
	} else if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}

	var rec RefreshToken
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		s.client.Del(ctx, tokKey(tok))
		return ErrTokenNotFound
	}
	if rec.Revoked {
		return ErrTokenReused
	}

	rec.Revoked = true
	revoked, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokKey(tok), revoked, ReuseGraceWindow)
	pipe.SRem(ctx, userKey(rec.UserID), tok)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	// Drop the device pointer only if it still points at this token; a
	// concurrent create may have replaced it already.
	cur, err := s.client.Get(ctx, devKey(rec.UserID, rec.DeviceID)).Result()
	if err == nil && cur == tok {
		s.client.Del(ctx, devKey(rec.UserID, rec.DeviceID))
	}
	return nil
}

// RevokeAllForUser revokes every active token of a user.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	toks, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis smembers failed: %w", err)
	}

	var count int
	for _, tok := range toks {
		if err := s.Revoke(ctx, tok); err == nil {
			count++
		}
	}
	return count, nil
}

// Rotate revokes oldToken and issues a replacement for the same device.
func (s *RedisStore) Rotate(ctx context.Context, oldToken string, meta Meta) (*RefreshToken, error) {
	old, err := s.FindByToken(ctx, oldToken)
	if err != nil {
		return nil, err
	}
	if err := s.Revoke(ctx, oldToken); err != nil {
		return nil, err
	}
	return s.Create(ctx, CreateParams{
		UserID:    old.UserID,
		DeviceID:  old.DeviceID,
		IPAddress: meta.IPAddress,
		Country:   meta.Country,
		UserAgent: meta.UserAgent,
	})
}

// DeleteAllForUser hard-deletes the user's tokens and indexes. Revoked
// remnants inside the grace window expire on their own within seconds.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) error {
	toks, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, tok := range toks {
		data, err := s.client.Get(ctx, tokKey(tok)).Result()
		if err == nil {
			var rec RefreshToken
			if json.Unmarshal([]byte(data), &rec) == nil {
				pipe.Del(ctx, devKey(rec.UserID, rec.DeviceID))
			}
		}
		pipe.Del(ctx, tokKey(tok))
	}
	pipe.Del(ctx, userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}
