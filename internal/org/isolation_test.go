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

package org

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyline-id/keyline/internal/id"
)

// TestPurpose: Validates that the per-organization database name is a
// pure function of the org's own identifier, so two organizations can
// never collide on a logical database.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
func TestIsolation_DatabaseNameDerivation(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		orgID := "0c6f5b9a-1111-4000-8000-000000000001"
		assert.Equal(t, DatabaseName(orgID), DatabaseName(orgID))
		assert.Equal(t, "org_0c6f5b9a_1111_4000_8000_000000000001", DatabaseName(orgID))
	})

	t.Run("no collisions across generated ids", func(t *testing.T) {
		seen := make(map[string]string)
		for i := 0; i < 1000; i++ {
			orgID := id.NewUUIDv7()
			name := DatabaseName(orgID)
			if prior, ok := seen[name]; ok {
				t.Fatalf("database name %s shared by %s and %s", name, prior, orgID)
			}
			seen[name] = orgID
		}
	})

	t.Run("only safe identifier characters", func(t *testing.T) {
		name := DatabaseName("AB-12; DROP TABLE users")
		assert.True(t, strings.HasPrefix(name, "org_"))
		for _, c := range name {
			valid := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
			assert.True(t, valid, "unexpected character %q in %s", c, name)
		}
	})
}

// TestPurpose: Validates that scoped stores handed out by the router
// are bound to their own organization's database and never shared
// across organizations.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
func TestIsolation_ScopedStoresNeverShareDatabase(t *testing.T) {
	orgs, regions := newMemOrgs(), newMemRegions()
	ctx := context.Background()

	require.NoError(t, regions.Create(ctx, &Region{
		Path:     "global",
		IsGlobal: true,
		IsActive: true,
		Metadata: RegionMetadata{ObjectConnectionURI: globalURI},
	}))

	factory := &fakeFactory{}
	router := NewRouter(orgs, regions, factory)

	databases := make(map[string]string)
	for i := 0; i < 20; i++ {
		organization := &Organization{
			ID:     id.NewUUIDv7(),
			Slug:   fmt.Sprintf("tenant-%d", i),
			Status: StatusActive,
		}
		require.NoError(t, orgs.Create(ctx, organization))

		scoped, err := router.ForOrg(ctx, organization.ID, ModeWrite)
		require.NoError(t, err)

		assert.Equal(t, organization.ID, scoped.OrgID)
		assert.Equal(t, DatabaseName(organization.ID), scoped.Database)
		if prior, ok := databases[scoped.Database]; ok {
			t.Fatalf("database %s shared by orgs %s and %s", scoped.Database, prior, organization.ID)
		}
		databases[scoped.Database] = organization.ID
	}

	// The factory saw the same bindings the router reported.
	for _, opened := range factory.opened {
		owner, ok := databases[opened.database]
		require.True(t, ok)
		assert.Equal(t, DatabaseName(owner), opened.database)
	}
}
