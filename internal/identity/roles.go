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

package identity

import "github.com/keyline-id/keyline/internal/permission"

// Predefined role IDs. These are seeded at bootstrap into the global
// directory and into every tenant database, and must remain stable.
const (
	// RoleIDPlatformAdmin grants every action on every identity scope,
	// globally. A user holding it directly, with no org memberships, is
	// the global administrator the rest of the system assumes exists.
	RoleIDPlatformAdmin = "20000000-0000-4000-8000-000000000001"

	// RoleIDOrgAdmin grants full control of users, roles, and groups.
	// Predefined and therefore global; organizations that want an
	// admin bound to themselves create a custom role instead.
	RoleIDOrgAdmin = "20000000-0000-4000-8000-000000000002"

	// RoleIDViewer grants read on everything except stats.
	RoleIDViewer = "20000000-0000-4000-8000-000000000003"

	// RoleIDMember grants self-service read/update only.
	RoleIDMember = "20000000-0000-4000-8000-000000000004"
)

// PredefinedRoles returns fresh copies of the built-in roles, safe for
// seeding into a new tenant database.
func PredefinedRoles() []*Role {
	return []*Role{
		{
			ID:         RoleIDPlatformAdmin,
			Name:       "platform-admin",
			Predefined: true,
			Permissions: []permission.Permission{
				{Resource: permission.ResourceIdentity, Scope: permission.ScopeAll, Action: permission.ActionAll},
			},
		},
		{
			ID:         RoleIDOrgAdmin,
			Name:       "org-admin",
			Predefined: true,
			Permissions: []permission.Permission{
				{
					Resource: permission.ResourceIdentity,
					Scope:    permission.ScopeSelf | permission.ScopeUsers | permission.ScopeRoles | permission.ScopeGroups,
					Action:   permission.ActionAll,
				},
			},
		},
		{
			ID:         RoleIDViewer,
			Name:       "viewer",
			Predefined: true,
			Permissions: []permission.Permission{
				{
					Resource: permission.ResourceIdentity,
					Scope: permission.ScopeSelf | permission.ScopeUsers | permission.ScopeRoles |
						permission.ScopeGroups | permission.ScopeOrganizations | permission.ScopeRegions,
					Action: permission.ActionRead,
				},
			},
		},
		{
			ID:         RoleIDMember,
			Name:       "member",
			Predefined: true,
			Permissions: []permission.Permission{
				{
					Resource: permission.ResourceIdentity,
					Scope:    permission.ScopeSelf,
					Action:   permission.ActionRead | permission.ActionUpdate,
				},
			},
		},
	}
}
