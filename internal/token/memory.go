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
	"sync"
	"time"
)

// DefaultSweepInterval is how often the in-memory store purges expired
// and revoked-past-grace entries.
const DefaultSweepInterval = time.Hour

// MemoryStore is the in-process Store fallback used when the shared
// cache is unavailable or not configured. It has no native TTL, so a
// periodic sweep bounds memory growth.
type MemoryStore struct {
	mu sync.Mutex
	// byToken holds every record, including revoked ones inside the
	// reuse grace window.
	byToken map[string]*RefreshToken
	// byDevice maps userID+deviceID to the single active token.
	byDevice map[string]string
	// byUser maps userID to its active token set.
	byUser map[string]map[string]struct{}
	// graceUntil tracks when a revoked record becomes purgeable.
	graceUntil map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryStore creates an empty in-process token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken:    make(map[string]*RefreshToken),
		byDevice:   make(map[string]string),
		byUser:     make(map[string]map[string]struct{}),
		graceUntil: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// StartSweep begins the periodic purge. interval <= 0 falls back to
// DefaultSweepInterval.
func (s *MemoryStore) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// StopSweep stops the purge goroutine. Idempotent.
func (s *MemoryStore) StopSweep() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func deviceKey(userID, deviceID string) string {
	return userID + "\x00" + deviceID
}

// Create issues a new token, revoking the device's prior one.
func (s *MemoryStore) Create(_ context.Context, params CreateParams) (*RefreshToken, error) {
	rec, err := newRecord(params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.byDevice[deviceKey(params.UserID, params.DeviceID)]; ok {
		s.revokeLocked(prior)
	}

	s.byToken[rec.Token] = rec
	s.byDevice[deviceKey(params.UserID, params.DeviceID)] = rec.Token
	if s.byUser[params.UserID] == nil {
		s.byUser[params.UserID] = make(map[string]struct{})
	}
	s.byUser[params.UserID][rec.Token] = struct{}{}

	out := *rec
	return &out, nil
}

// FindByToken returns the active record for token.
func (s *MemoryStore) FindByToken(_ context.Context, tok string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(tok)
}

func (s *MemoryStore) findLocked(tok string) (*RefreshToken, error) {
	rec, ok := s.byToken[tok]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if rec.Revoked {
		if until, ok := s.graceUntil[tok]; ok && time.Now().Before(until) {
			return nil, ErrTokenReused
		}
		return nil, ErrTokenNotFound
	}
	if rec.IsExpired() {
		return nil, ErrTokenNotFound
	}
	out := *rec
	return &out, nil
}

// FindByUserAndDevice returns the device's active token, if any.
func (s *MemoryStore) FindByUserAndDevice(_ context.Context, userID, deviceID string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byDevice[deviceKey(userID, deviceID)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return s.findLocked(tok)
}

// Revoke marks a token revoked and unlinks its indexes.
func (s *MemoryStore) Revoke(_ context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byToken[tok]
	if !ok {
		return ErrTokenNotFound
	}
	if rec.Revoked {
		return ErrTokenReused
	}
	s.revokeLocked(tok)
	return nil
}

func (s *MemoryStore) revokeLocked(tok string) {
	rec, ok := s.byToken[tok]
	if !ok {
		return
	}
	rec.Revoked = true
	s.graceUntil[tok] = time.Now().Add(ReuseGraceWindow)

	// Unlink immediately so a subsequent create for the device never
	// sees a stale pointer.
	if cur, ok := s.byDevice[deviceKey(rec.UserID, rec.DeviceID)]; ok && cur == tok {
		delete(s.byDevice, deviceKey(rec.UserID, rec.DeviceID))
	}
	if set, ok := s.byUser[rec.UserID]; ok {
		delete(set, tok)
		if len(set) == 0 {
			delete(s.byUser, rec.UserID)
		}
	}
}

// RevokeAllForUser revokes every active token of a user.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for tok := range s.byUser[userID] {
		s.revokeLocked(tok)
		count++
	}
	return count, nil
}

// Rotate revokes oldToken and issues a replacement for the same device.
func (s *MemoryStore) Rotate(ctx context.Context, oldToken string, meta Meta) (*RefreshToken, error) {
	s.mu.Lock()
	old, err := s.findLocked(oldToken)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.revokeLocked(oldToken)
	s.mu.Unlock()

	return s.Create(ctx, CreateParams{
		UserID:    old.UserID,
		DeviceID:  old.DeviceID,
		IPAddress: meta.IPAddress,
		Country:   meta.Country,
		UserAgent: meta.UserAgent,
	})
}

// DeleteAllForUser hard-deletes every record of a user.
func (s *MemoryStore) DeleteAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tok, rec := range s.byToken {
		if rec.UserID != userID {
			continue
		}
		delete(s.byToken, tok)
		delete(s.graceUntil, tok)
		delete(s.byDevice, deviceKey(rec.UserID, rec.DeviceID))
	}
	delete(s.byUser, userID)
	return nil
}

// sweep purges expired records and revoked records past their grace
// window from all indexes.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for tok, rec := range s.byToken {
		purge := false
		if rec.Revoked {
			purge = now.After(s.graceUntil[tok])
		} else if now.After(rec.ExpiresAt) {
			purge = true
		}
		if !purge {
			continue
		}
		delete(s.byToken, tok)
		delete(s.graceUntil, tok)
		if cur, ok := s.byDevice[deviceKey(rec.UserID, rec.DeviceID)]; ok && cur == tok {
			delete(s.byDevice, deviceKey(rec.UserID, rec.DeviceID))
		}
		if set, ok := s.byUser[rec.UserID]; ok {
			delete(set, tok)
			if len(set) == 0 {
				delete(s.byUser, rec.UserID)
			}
		}
	}
}
