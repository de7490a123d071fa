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

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keyline-id/keyline/internal/keystore"
)

// Domain errors
var (
	ErrInvalidToken = errors.New("invalid session token")
)

// DefaultTokenTTL is the session token lifetime when none is configured.
const DefaultTokenTTL = 15 * time.Minute

// Claims are the session token claims. Subject carries the user ID.
type Claims struct {
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and validates session tokens. Tokens are HMAC-signed
// with the keystore's current key; validation accepts the current and
// the previous generation, so a token signed moments before a rotation
// stays valid for the full rotation window.
type Manager struct {
	keys   *keystore.KeyStore
	issuer string
	ttl    time.Duration
}

// NewManager creates a session manager. ttl <= 0 falls back to
// DefaultTokenTTL.
func NewManager(keys *keystore.KeyStore, issuer string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Manager{keys: keys, issuer: issuer, ttl: ttl}
}

// Issue signs a new session token for userID on deviceID.
func (m *Manager) Issue(userID, deviceID string) (string, error) {
	now := time.Now()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.keys.CurrentKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify validates a session token against the current key, then the
// previous one. Any failure collapses to ErrInvalidToken; callers get no
// detail about why validation failed.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	for _, key := range m.keys.VerifyingKeys() {
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err == nil && claims.Subject != "" {
			return claims, nil
		}
	}
	return nil, ErrInvalidToken
}
