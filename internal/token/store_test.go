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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both Store implementations must satisfy the same contract, so the
// lifecycle tests run against each.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		fn(t, NewRedisStore(client))
	})
}

func params(userID, deviceID string) CreateParams {
	return CreateParams{
		UserID:    userID,
		DeviceID:  deviceID,
		IPAddress: "203.0.113.7",
		Country:   "DE",
		UserAgent: "test-agent/1.0",
	}
}

func TestStore_CreateAndFind(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rec, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)
		assert.NotEmpty(t, rec.Token)
		assert.False(t, rec.Revoked)
		assert.True(t, rec.ExpiresAt.After(time.Now()))

		found, err := s.FindByToken(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, rec.UserID, found.UserID)
		assert.Equal(t, rec.DeviceID, found.DeviceID)
		assert.Equal(t, "DE", found.Country)

		byDevice, err := s.FindByUserAndDevice(ctx, "u1", "d1")
		require.NoError(t, err)
		assert.Equal(t, rec.Token, byDevice.Token)
	})
}

func TestStore_CreateRequiresUserAndDevice(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Create(context.Background(), CreateParams{UserID: "u1"})
		assert.ErrorIs(t, err, ErrMissingFields)

		_, err = s.Create(context.Background(), CreateParams{DeviceID: "d1"})
		assert.ErrorIs(t, err, ErrMissingFields)
	})
}

// Creating a second token for the same device revokes the first.
func TestStore_SingleActiveSessionPerDevice(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)

		b, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)
		require.NotEqual(t, a.Token, b.Token)

		_, err = s.FindByToken(ctx, a.Token)
		assert.ErrorIs(t, err, ErrTokenReused, "first token is dead after replacement")

		found, err := s.FindByToken(ctx, b.Token)
		require.NoError(t, err)
		assert.Equal(t, b.Token, found.Token)

		// Different devices do not interfere.
		c, err := s.Create(ctx, params("u1", "d2"))
		require.NoError(t, err)
		_, err = s.FindByToken(ctx, b.Token)
		assert.NoError(t, err)
		_, err = s.FindByToken(ctx, c.Token)
		assert.NoError(t, err)
	})
}

func TestStore_RevokeAndReuseWindow(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rec, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)
		require.NoError(t, s.Revoke(ctx, rec.Token))

		// Inside the grace window the replay is identified as such.
		_, err = s.FindByToken(ctx, rec.Token)
		assert.ErrorIs(t, err, ErrTokenReused)

		// The device slot is free immediately.
		_, err = s.FindByUserAndDevice(ctx, "u1", "d1")
		assert.ErrorIs(t, err, ErrTokenNotFound)

		// Double revoke reports the reuse.
		assert.ErrorIs(t, s.Revoke(ctx, rec.Token), ErrTokenReused)
	})
}

func TestStore_RevokeUnknownToken(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		assert.ErrorIs(t, s.Revoke(context.Background(), "no-such-token"), ErrTokenNotFound)
	})
}

// rotate(old) succeeds exactly once; the replayed second call fails.
func TestStore_RotateAntiReplay(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		old, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)

		meta := Meta{IPAddress: "198.51.100.9", Country: "SE", UserAgent: "test-agent/2.0"}
		fresh, err := s.Rotate(ctx, old.Token, meta)
		require.NoError(t, err)
		assert.Equal(t, "u1", fresh.UserID)
		assert.Equal(t, "d1", fresh.DeviceID)
		assert.Equal(t, "SE", fresh.Country)
		assert.NotEqual(t, old.Token, fresh.Token)

		_, err = s.Rotate(ctx, old.Token, meta)
		assert.ErrorIs(t, err, ErrTokenReused)

		// The replacement is live.
		_, err = s.FindByToken(ctx, fresh.Token)
		assert.NoError(t, err)
	})
}

func TestStore_RotateUnknownToken(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Rotate(context.Background(), "no-such-token", Meta{})
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestStore_RevokeAllForUser(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		t1, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)
		t2, err := s.Create(ctx, params("u1", "d2"))
		require.NoError(t, err)
		other, err := s.Create(ctx, params("u2", "d1"))
		require.NoError(t, err)

		count, err := s.RevokeAllForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = s.FindByToken(ctx, t1.Token)
		assert.Error(t, err)
		_, err = s.FindByToken(ctx, t2.Token)
		assert.Error(t, err)

		// Another user's session is untouched.
		_, err = s.FindByToken(ctx, other.Token)
		assert.NoError(t, err)
	})
}

func TestStore_DeleteAllForUser(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rec, err := s.Create(ctx, params("u1", "d1"))
		require.NoError(t, err)
		require.NoError(t, s.DeleteAllForUser(ctx, "u1"))

		// Hard delete: not even a reuse marker remains.
		_, err = s.FindByToken(ctx, rec.Token)
		assert.ErrorIs(t, err, ErrTokenNotFound)
		_, err = s.FindByUserAndDevice(ctx, "u1", "d1")
		assert.ErrorIs(t, err, ErrTokenNotFound)

		// A new session for the same device works.
		_, err = s.Create(ctx, params("u1", "d1"))
		assert.NoError(t, err)
	})
}

func TestStore_ExpiredTokenRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		p := params("u1", "d1")
		p.TTL = 10 * time.Millisecond
		rec, err := s.Create(ctx, p)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, err := s.FindByToken(ctx, rec.Token)
			return err != nil
		}, time.Second, 10*time.Millisecond)
	})
}

func TestMemoryStore_SweepPurgesDeadEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := params("u1", "d1")
	p.TTL = time.Millisecond
	expired, err := s.Create(ctx, p)
	require.NoError(t, err)

	revoked, err := s.Create(ctx, params("u2", "d1"))
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, revoked.Token))
	// Force the grace window shut so the sweep may collect it.
	s.mu.Lock()
	s.graceUntil[revoked.Token] = time.Now().Add(-time.Second)
	s.mu.Unlock()

	live, err := s.Create(ctx, params("u3", "d1"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.byToken, expired.Token)
	assert.NotContains(t, s.byToken, revoked.Token)
	assert.Contains(t, s.byToken, live.Token)
	assert.NotContains(t, s.byUser, "u1")
	assert.NotContains(t, s.byUser, "u2")
}

// The redis store relies on cache-native TTL: after the entry is
// evicted, the token is simply gone.
func TestRedisStore_NativeTTLEviction(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisStore(client)
	ctx := context.Background()

	p := params("u1", "d1")
	p.TTL = time.Minute
	rec, err := s.Create(ctx, p)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.FindByToken(ctx, rec.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = s.FindByUserAndDevice(ctx, "u1", "d1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}
