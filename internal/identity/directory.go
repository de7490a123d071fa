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

import (
	"context"
	"errors"

	"github.com/keyline-id/keyline/internal/permission"
)

// Directory adapts the identity repositories into the read-only views
// the permission engine consumes.
type Directory struct {
	users    UserRepository
	groups   GroupRepository
	resolver RoleResolver
}

// NewDirectory builds the permission-engine adapter.
func NewDirectory(users UserRepository, groups GroupRepository, resolver RoleResolver) *Directory {
	return &Directory{users: users, groups: groups, resolver: resolver}
}

// Subject resolves a user into the engine's subject view.
func (d *Directory) Subject(ctx context.Context, userID string) (*permission.Subject, error) {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	subject := &permission.Subject{
		UserID:      user.ID,
		Permissions: append([]permission.Permission(nil), user.Permissions...),
		RoleIDs:     append([]string(nil), user.RoleIDs...),
		GroupIDs:    append([]string(nil), user.GroupIDs...),
	}
	if len(user.Orgs) > 0 {
		subject.OrgRoles = make(map[string][]string, len(user.Orgs))
		for _, m := range user.Orgs {
			subject.OrgRoles[m.OrgID] = append([]string(nil), m.RoleIDs...)
		}
	}
	return subject, nil
}

// Role resolves a role from the global directory or, for custom roles,
// from the organization's own database.
func (d *Directory) Role(ctx context.Context, roleID, orgID string) (*permission.RoleGrant, error) {
	role, err := d.resolver.ResolveRole(ctx, roleID, orgID)
	if err != nil {
		return nil, err
	}
	return &permission.RoleGrant{
		ID:          role.ID,
		OrgID:       role.OrgID,
		Predefined:  role.Predefined,
		Permissions: append([]permission.Permission(nil), role.Permissions...),
	}, nil
}

// Group resolves a group into the engine's grant view.
func (d *Directory) Group(ctx context.Context, groupID string) (*permission.GroupGrant, error) {
	group, err := d.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &permission.GroupGrant{
		ID:          group.ID,
		RoleIDs:     append([]string(nil), group.RoleIDs...),
		Permissions: append([]permission.Permission(nil), group.Permissions...),
	}, nil
}

// StandardRoleResolver looks a role up in the global directory first,
// then in the organization's own database when an org scope is given.
type StandardRoleResolver struct {
	global RoleRepository
	tenant TenantRoleStores
}

// NewRoleResolver builds a resolver over the global role repository and
// the tenant-routed role stores. tenant may be nil in single-tenant
// deployments.
func NewRoleResolver(global RoleRepository, tenant TenantRoleStores) *StandardRoleResolver {
	return &StandardRoleResolver{global: global, tenant: tenant}
}

// ResolveRole implements RoleResolver.
func (r *StandardRoleResolver) ResolveRole(ctx context.Context, roleID, orgID string) (*Role, error) {
	role, err := r.global.GetByID(ctx, roleID)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}
	if orgID == "" || r.tenant == nil {
		return nil, ErrRoleNotFound
	}

	repo, err := r.tenant.RolesForOrg(ctx, orgID, false)
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, roleID)
}
