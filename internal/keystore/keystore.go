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

package keystore

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// KeyLength is the size in bytes of a signing key.
	KeyLength = 32

	// DefaultRotationInterval is how often the signing key is rotated.
	DefaultRotationInterval = 24 * time.Hour
)

// KeyStore holds a two-generation signing-key window. New tokens are
// signed with the current key; validation accepts current and previous,
// so a token signed just before a rotation keeps a full rotation
// interval of validity. Only two generations are ever live.
type KeyStore struct {
	store    SecretStore
	interval time.Duration

	mu        sync.RWMutex
	current   []byte
	previous  []byte
	rotatedAt time.Time

	subMu       sync.Mutex
	subscribers []func()

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool
	startMu  sync.Mutex
}

// New creates a KeyStore persisting through store. interval <= 0 falls
// back to DefaultRotationInterval.
func New(store SecretStore, interval time.Duration) *KeyStore {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	return &KeyStore{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Init loads the key pair from the secret store, or generates and
// persists a fresh one when none exists. Must be called before any
// signing or rotation.
func (ks *KeyStore) Init(ctx context.Context) error {
	rec, err := ks.store.LoadKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if rec != nil && len(rec.Current) == KeyLength {
		ks.current = rec.Current
		ks.previous = rec.Previous
		ks.rotatedAt = rec.RotatedAt
		return nil
	}

	key, err := newKey()
	if err != nil {
		return err
	}
	ks.current = key
	ks.previous = nil
	ks.rotatedAt = time.Now()

	if err := ks.store.SaveKeys(ctx, &KeyRecord{
		Current:   ks.current,
		RotatedAt: ks.rotatedAt,
	}); err != nil {
		return fmt.Errorf("failed to persist signing keys: %w", err)
	}
	return nil
}

// Rotate demotes the current key to previous, generates a fresh current
// key, persists best-effort, and notifies subscribers. A persistence
// failure never blocks issuing tokens with the new key; it is logged and
// retried on the next rotation.
func (ks *KeyStore) Rotate(ctx context.Context) error {
	key, err := newKey()
	if err != nil {
		return err
	}

	ks.mu.Lock()
	ks.previous = ks.current
	ks.current = key
	ks.rotatedAt = time.Now()
	rec := &KeyRecord{
		Current:   ks.current,
		Previous:  ks.previous,
		RotatedAt: ks.rotatedAt,
	}
	ks.mu.Unlock()

	if err := ks.store.SaveKeys(ctx, rec); err != nil {
		slog.Warn("signing key persistence failed, keeping in-memory state",
			slog.String("component", "keystore"),
			slog.String("error", err.Error()),
		)
	}

	ks.notify()
	return nil
}

// StartRotation begins the periodic rotation timer. Idempotent.
func (ks *KeyStore) StartRotation() {
	ks.startMu.Lock()
	defer ks.startMu.Unlock()
	if ks.started {
		return
	}
	ks.started = true

	go func() {
		ticker := time.NewTicker(ks.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ks.Rotate(context.Background()); err != nil {
					slog.Error("scheduled key rotation failed",
						slog.String("component", "keystore"),
						slog.String("error", err.Error()),
					)
				}
			case <-ks.stopCh:
				return
			}
		}
	}()
}

// StopRotation stops the rotation timer. Idempotent.
func (ks *KeyStore) StopRotation() {
	ks.stopOnce.Do(func() { close(ks.stopCh) })
}

// Subscribe registers a callback invoked after every rotation. An error
// or panic in one callback does not affect the others.
func (ks *KeyStore) Subscribe(fn func()) {
	ks.subMu.Lock()
	defer ks.subMu.Unlock()
	ks.subscribers = append(ks.subscribers, fn)
}

// CurrentKey returns a copy of the key used to sign new tokens.
func (ks *KeyStore) CurrentKey() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return cloneKey(ks.current)
}

// PreviousKey returns a copy of the demoted key, or nil before the first
// rotation. Used only to validate tokens signed before the last rotation.
func (ks *KeyStore) PreviousKey() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return cloneKey(ks.previous)
}

// VerifyingKeys returns the currently acceptable validation keys, newest
// first.
func (ks *KeyStore) VerifyingKeys() [][]byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	keys := [][]byte{cloneKey(ks.current)}
	if ks.previous != nil {
		keys = append(keys, cloneKey(ks.previous))
	}
	return keys
}

// RotatedAt returns the time of the last rotation (or initialization).
func (ks *KeyStore) RotatedAt() time.Time {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.rotatedAt
}

// TimeUntilRotation reports how long until the next scheduled rotation,
// clamped at zero.
func (ks *KeyStore) TimeUntilRotation() time.Duration {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	remaining := ks.interval - time.Since(ks.rotatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (ks *KeyStore) notify() {
	ks.subMu.Lock()
	subs := append([]func(){}, ks.subscribers...)
	ks.subMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("rotation subscriber panicked",
						slog.String("component", "keystore"),
						slog.Any("panic", r),
					)
				}
			}()
			fn()
		}()
	}
}

func newKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}

func cloneKey(key []byte) []byte {
	if key == nil {
		return nil
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out
}
