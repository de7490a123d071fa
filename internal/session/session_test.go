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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyline-id/keyline/internal/keystore"
)

func newKeyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	ks := keystore.New(keystore.NewMemoryStore(), time.Hour)
	require.NoError(t, ks.Init(context.Background()))
	return ks
}

func TestManager_IssueAndVerify(t *testing.T) {
	m := NewManager(newKeyStore(t), "keyline-test", time.Minute)

	tok, err := m.Issue("u1", "d1")
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "d1", claims.DeviceID)
	assert.Equal(t, "keyline-test", claims.Issuer)
}

func TestManager_RejectsGarbage(t *testing.T) {
	m := NewManager(newKeyStore(t), "keyline-test", time.Minute)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := m.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestManager_RejectsForeignKey(t *testing.T) {
	m := NewManager(newKeyStore(t), "keyline-test", time.Minute)
	other := NewManager(newKeyStore(t), "keyline-test", time.Minute)

	tok, err := other.Issue("u1", "d1")
	require.NoError(t, err)

	_, err = m.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsExpiredToken(t *testing.T) {
	m := NewManager(newKeyStore(t), "keyline-test", time.Millisecond)

	tok, err := m.Issue("u1", "d1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Verify(tok)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

// A token signed before a rotation verifies through the previous-key
// window, and dies after the second rotation evicts its key.
func TestManager_TokenSurvivesExactlyOneRotation(t *testing.T) {
	ks := newKeyStore(t)
	m := NewManager(ks, "keyline-test", time.Hour)

	tok, err := m.Issue("u1", "d1")
	require.NoError(t, err)

	require.NoError(t, ks.Rotate(context.Background()))
	_, err = m.Verify(tok)
	assert.NoError(t, err, "token signed one rotation ago still validates")

	require.NoError(t, ks.Rotate(context.Background()))
	_, err = m.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "token dies once its key leaves the window")
}

func TestManager_FreshTokenAfterRotation(t *testing.T) {
	ks := newKeyStore(t)
	m := NewManager(ks, "keyline-test", time.Hour)

	require.NoError(t, ks.Rotate(context.Background()))
	tok, err := m.Issue("u2", "d2")
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u2", claims.Subject)
}
