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
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenReused marks an attempt to use a token that was already
	// revoked or rotated. Callers must treat it as a hard authentication
	// failure, not a retryable miss.
	ErrTokenReused   = errors.New("refresh token already used")
	ErrMissingFields = errors.New("user id and device id are required")
)

const (
	// DefaultTTL is the refresh token lifetime when none is requested.
	DefaultTTL = 30 * 24 * time.Hour

	// ReuseGraceWindow is how long a revoked token stays retrievable so
	// replay of a rotated token is rejected with ErrTokenReused instead
	// of an indistinguishable "not found".
	ReuseGraceWindow = 60 * time.Second

	// rawTokenLength is the number of random bytes behind an opaque token.
	rawTokenLength = 48
)

// RefreshToken is a device-scoped refresh credential. For any
// (UserID, DeviceID) pair at most one non-revoked, non-expired token
// exists; creating a new one revokes the prior one.
type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	Country   string    `json:"country,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Revoked   bool      `json:"revoked"`
}

// IsExpired reports whether the token's lifetime has elapsed.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// CreateParams carries the client metadata bound to a new token.
type CreateParams struct {
	UserID    string
	DeviceID  string
	IPAddress string
	Country   string
	UserAgent string
	TTL       time.Duration // 0 means DefaultTTL
}

// Meta is the client metadata recorded on rotation.
type Meta struct {
	IPAddress string
	Country   string
	UserAgent string
}

// Store is the refresh token lifecycle contract. Two implementations
// exist: RedisStore over the shared cache (TTL-native expiry) and
// MemoryStore with a periodic sweep. Selected at construction time.
type Store interface {
	// Create issues a new opaque token, revoking any active token for the
	// same (user, device) pair first.
	Create(ctx context.Context, params CreateParams) (*RefreshToken, error)

	// FindByToken returns the record only if non-revoked and non-expired.
	// A token inside the reuse grace window yields ErrTokenReused.
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)

	// FindByUserAndDevice returns the active token for a device, if any.
	FindByUserAndDevice(ctx context.Context, userID, deviceID string) (*RefreshToken, error)

	// Revoke marks the token revoked and unlinks its device and user
	// indexes immediately; the record itself stays readable for the
	// reuse grace window.
	Revoke(ctx context.Context, token string) error

	// RevokeAllForUser revokes every active token of a user and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	// Rotate atomically revokes oldToken and issues a replacement bound
	// to the same user and device. Exactly one rotation per token ever
	// succeeds; replays fail with ErrTokenReused or ErrTokenNotFound.
	Rotate(ctx context.Context, oldToken string, meta Meta) (*RefreshToken, error)

	// DeleteAllForUser hard-deletes every record of a user, revoked or
	// not, for account erasure.
	DeleteAllForUser(ctx context.Context, userID string) error
}

// generateToken returns a URL-safe opaque token backed by 48 random bytes.
func generateToken() (string, error) {
	raw := make([]byte, rawTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func newRecord(params CreateParams) (*RefreshToken, error) {
	if params.UserID == "" || params.DeviceID == "" {
		return nil, ErrMissingFields
	}
	opaque, err := generateToken()
	if err != nil {
		return nil, err
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &RefreshToken{
		Token:     opaque,
		UserID:    params.UserID,
		DeviceID:  params.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IPAddress: params.IPAddress,
		Country:   params.Country,
		UserAgent: params.UserAgent,
	}, nil
}
