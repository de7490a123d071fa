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

package permission

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasFlags(t *testing.T) {
	tests := []struct {
		name     string
		value    uint32
		required uint32
		want     bool
	}{
		{"exact match", 3, 3, true},
		{"superset", 31, 5, true},
		{"missing bit", 1, 3, false},
		{"disjoint", 8, 4, false},
		{"zero required always true", 0, 0, true},
		{"zero required with value", 21, 0, true},
		{"zero value nonzero required", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasFlags(tt.value, tt.required))
		})
	}
}

// Randomized containment check: whenever a required bit is absent from the
// held mask, the grant must be denied regardless of any other bits held.
func TestHasFlags_NeverGrantsMissingBits(t *testing.T) {
	rng := rand.New(rand.NewSource(0x51ca7))

	for i := 0; i < 10000; i++ {
		held := rng.Uint32() & uint32(ActionAll)
		required := rng.Uint32() & uint32(ActionAll)

		got := HasFlags(held, required)
		if required&^held != 0 {
			assert.False(t, got, "held=%b required=%b", held, required)
		} else {
			assert.True(t, got, "held=%b required=%b", held, required)
		}
	}
}

func TestNewAction_RejectsOutOfRange(t *testing.T) {
	_, err := NewAction(32)
	assert.Error(t, err)

	_, err = NewAction(uint32(ActionAll) + 1)
	assert.Error(t, err)

	a, err := NewAction(uint32(ActionCRUD))
	require.NoError(t, err)
	assert.Equal(t, ActionCRUD, a)
}

func TestNewScope_RejectsOutOfRange(t *testing.T) {
	_, err := NewScope(128)
	assert.Error(t, err)

	s, err := NewScope(uint32(ScopeUsers | ScopeRoles))
	require.NoError(t, err)
	assert.True(t, s.Has(ScopeUsers))
	assert.True(t, s.Has(ScopeRoles))
	assert.False(t, s.Has(ScopeSelf))
}

func TestPermission_Grants(t *testing.T) {
	held := Permission{Resource: ResourceIdentity, Scope: ScopeUsers | ScopeGroups, Action: ActionCRUD}

	assert.True(t, held.Grants(Permission{Resource: ResourceIdentity, Scope: ScopeUsers, Action: ActionRead}))
	assert.True(t, held.Grants(Permission{Resource: ResourceIdentity, Scope: ScopeGroups, Action: ActionReadWrite}))

	// Missing action bit.
	assert.False(t, held.Grants(Permission{Resource: ResourceIdentity, Scope: ScopeUsers, Action: ActionExecute}))
	// Missing scope bit.
	assert.False(t, held.Grants(Permission{Resource: ResourceIdentity, Scope: ScopeRegions, Action: ActionRead}))
	// Wrong resource.
	assert.False(t, held.Grants(Permission{Resource: "billing", Scope: ScopeUsers, Action: ActionRead}))
}

func TestParse_RoundTrip(t *testing.T) {
	p := Permission{Resource: ResourceIdentity, Scope: ScopeUsers | ScopeRoles, Action: ActionReadWrite}

	parsed, err := Parse(p.String())
	require.NoError(t, err)
	assert.Equal(t, p.Resource, parsed.Resource)
	assert.Equal(t, p.Scope, parsed.Scope)
	assert.Equal(t, p.Action, parsed.Action)
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{"", "identity", "identity.2", ".2.1", "identity.x.1", "identity.2.x", "identity.2.999"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestParse_DottedResource(t *testing.T) {
	parsed, err := Parse("content.articles.2.3")
	require.NoError(t, err)
	assert.Equal(t, "content.articles", parsed.Resource)
	assert.Equal(t, ScopeUsers, parsed.Scope)
	assert.Equal(t, ActionReadWrite, parsed.Action)
}

func TestHumanize(t *testing.T) {
	p := Permission{Resource: ResourceIdentity, Scope: ScopeUsers | ScopeRoles, Action: ActionRead | ActionWrite}
	assert.Equal(t, "identity.users|roles.read|write", p.Humanize())

	empty := Permission{Resource: ResourceIdentity}
	assert.Equal(t, "identity.none.none", empty.Humanize())
}
