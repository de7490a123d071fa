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
	"fmt"
	"strings"
	"time"

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/id"
	"github.com/keyline-id/keyline/internal/permission"
)

// Authorizer gates authenticated entry points: it resolves a session
// token to a user and enforces a permission in one step.
type Authorizer interface {
	VerifyToken(token string) (string, error)
	RequirePermission(ctx context.Context, token string, required permission.Permission) (string, error)
}

// PermissionCache is the invalidation surface of the permission engine.
type PermissionCache interface {
	Invalidate(userID string)
	InvalidateAll()
}

// RoleResolver finds a role wherever it lives: the global directory for
// predefined and global roles, an organization's own database for its
// custom roles.
type RoleResolver interface {
	ResolveRole(ctx context.Context, roleID, orgID string) (*Role, error)
}

// TenantRoleStores yields the role repository bound to an organization's
// own database, read or write path.
type TenantRoleStores interface {
	RolesForOrg(ctx context.Context, orgID string, write bool) (RoleRepository, error)
}

// TokenRevoker is the slice of the refresh-token store the identity
// service needs for credential lifecycle events.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

// Service provides identity business logic for users, roles, and
// groups. Every mutating operation has an authenticated variant taking
// a session token, and a *Bootstrap variant for internal seeding that
// bypasses the permission gate.
type Service struct {
	users       UserRepository
	roles       RoleRepository // global directory
	groups      GroupRepository
	resolver    RoleResolver
	tenantRoles TenantRoleStores
	hasher      *PasswordHasher
	authz       Authorizer
	cache       PermissionCache
	tokens      TokenRevoker
	auditLogger audit.Logger
}

// NewService creates the identity service. tenantRoles and tokens may be
// nil in reduced deployments (single-tenant, no refresh tokens).
func NewService(
	users UserRepository,
	roles RoleRepository,
	groups GroupRepository,
	resolver RoleResolver,
	tenantRoles TenantRoleStores,
	hasher *PasswordHasher,
	authz Authorizer,
	cache PermissionCache,
	tokens TokenRevoker,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		users:       users,
		roles:       roles,
		groups:      groups,
		resolver:    resolver,
		tenantRoles: tenantRoles,
		hasher:      hasher,
		authz:       authz,
		cache:       cache,
		tokens:      tokens,
		auditLogger: auditLogger,
	}
}

func identityPerm(scope permission.Scope, action permission.Action, orgID string) permission.Permission {
	return permission.Permission{
		Resource: permission.ResourceIdentity,
		Scope:    scope,
		Action:   action,
		OrgID:    orgID,
	}
}

// CreateUserParams carries the fields for a new user.
type CreateUserParams struct {
	Email    string
	Password string
	RoleIDs  []string
	GroupIDs []string
}

// CreateUser creates a user, gated on identity.users.write.
func (s *Service) CreateUser(ctx context.Context, token string, params CreateUserParams) (*User, error) {
	actor, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeUsers, permission.ActionWrite, ""))
	if err != nil {
		return nil, err
	}
	return s.createUser(ctx, actor, params)
}

// CreateUserBootstrap creates a user without an authenticated principal.
// Only internal seeding paths may call it.
func (s *Service) CreateUserBootstrap(ctx context.Context, params CreateUserParams) (*User, error) {
	return s.createUser(ctx, audit.ActorSystemBootstrap, params)
}

func (s *Service) createUser(ctx context.Context, actor string, params CreateUserParams) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" || params.Password == "" {
		return nil, ErrMissingFields
	}

	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:           id.NewUUIDv7(),
		Email:        email,
		PasswordHash: hash,
		RoleIDs:      append([]string(nil), params.RoleIDs...),
		GroupIDs:     append([]string(nil), params.GroupIDs...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  actor,
		Resource: user.ID,
		Metadata: map[string]any{"email": email},
	})
	return user, nil
}

// GetUser retrieves a user. Reading one's own record needs only the
// self scope; reading others needs the users scope.
func (s *Service) GetUser(ctx context.Context, token, userID string) (*User, error) {
	actor, err := s.authz.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	scope := permission.ScopeUsers
	if actor == userID {
		scope = permission.ScopeSelf
	}
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(scope, permission.ActionRead, "")); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// GetUserInternal retrieves a user without a permission gate, for
// internal collaborators that already hold a verified principal.
func (s *Service) GetUserInternal(ctx context.Context, userID string) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// ListUsers lists users with pagination, gated on identity.users.read.
func (s *Service) ListUsers(ctx context.Context, token string, limit, offset int) ([]*User, error) {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeUsers, permission.ActionRead, "")); err != nil {
		return nil, err
	}
	return s.users.List(ctx, limit, offset)
}

// DeleteUser removes a user, erases their refresh tokens, and drops
// their cached permission decisions.
func (s *Service) DeleteUser(ctx context.Context, token, userID string) error {
	actor, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeUsers, permission.ActionDelete, ""))
	if err != nil {
		return err
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	if s.tokens != nil {
		if err := s.tokens.DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to erase refresh tokens: %w", err)
		}
	}
	s.cache.Invalidate(userID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserDeleted,
		ActorID:  actor,
		Resource: userID,
	})
	return nil
}

// Authenticate verifies email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: email,
			Metadata: map[string]any{"reason": "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: email,
			Metadata: map[string]any{"reason": "bad_password"},
		})
		return nil, ErrInvalidCredentials
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeLoginSuccess,
		ActorID: user.ID,
	})
	return user, nil
}

// ChangePassword sets a new password and logs the user out everywhere.
// Users may change their own password; changing someone else's needs
// the users update permission.
func (s *Service) ChangePassword(ctx context.Context, token, userID, newPassword string) error {
	actor, err := s.authz.VerifyToken(token)
	if err != nil {
		return err
	}
	if actor != userID {
		if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeUsers, permission.ActionUpdate, "")); err != nil {
			return err
		}
	}
	if newPassword == "" {
		return ErrMissingFields
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if s.tokens != nil {
		if _, err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		ActorID:  actor,
		Resource: userID,
	})
	return nil
}

// AssignRole grants a role to a user. With an empty orgID the role is
// granted globally; otherwise it lands on the user's membership in that
// organization. A custom role from a different organization is rejected.
func (s *Service) AssignRole(ctx context.Context, token, userID, roleID, orgID string) error {
	actor, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeRoles, permission.ActionWrite, orgID))
	if err != nil {
		return err
	}
	return s.assignRole(ctx, actor, userID, roleID, orgID)
}

// AssignRoleBootstrap grants a role without a permission gate.
func (s *Service) AssignRoleBootstrap(ctx context.Context, userID, roleID, orgID string) error {
	return s.assignRole(ctx, audit.ActorSystemBootstrap, userID, roleID, orgID)
}

func (s *Service) assignRole(ctx context.Context, actor, userID, roleID, orgID string) error {
	role, err := s.resolver.ResolveRole(ctx, roleID, orgID)
	if err != nil {
		return err
	}
	if !role.Predefined && role.OrgID != orgID {
		return ErrCrossOrgRole
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if orgID == "" {
		if !containsString(user.RoleIDs, roleID) {
			user.RoleIDs = append(user.RoleIDs, roleID)
		}
	} else {
		membership := user.Membership(orgID)
		if membership == nil {
			return ErrNotOrgMember
		}
		if !containsString(membership.RoleIDs, roleID) {
			membership.RoleIDs = append(membership.RoleIDs, roleID)
		}
	}

	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.cache.Invalidate(userID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleAssigned,
		OrgID:    orgID,
		ActorID:  actor,
		Resource: roleID,
		Metadata: map[string]any{"user_id": userID},
	})
	return nil
}

// RevokeRole removes a role grant from a user.
func (s *Service) RevokeRole(ctx context.Context, token, userID, roleID, orgID string) error {
	actor, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeRoles, permission.ActionWrite, orgID))
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if orgID == "" {
		user.RoleIDs = removeString(user.RoleIDs, roleID)
	} else {
		membership := user.Membership(orgID)
		if membership == nil {
			return ErrNotOrgMember
		}
		membership.RoleIDs = removeString(membership.RoleIDs, roleID)
	}

	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.cache.Invalidate(userID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleRevoked,
		OrgID:    orgID,
		ActorID:  actor,
		Resource: roleID,
		Metadata: map[string]any{"user_id": userID},
	})
	return nil
}

// AddOrgMembership joins a user to an organization.
func (s *Service) AddOrgMembership(ctx context.Context, token, userID, orgID string, roleIDs []string) error {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeOrganizations, permission.ActionWrite, orgID)); err != nil {
		return err
	}
	return s.addOrgMembership(ctx, userID, orgID, roleIDs)
}

// AddOrgMembershipBootstrap joins a user to an organization without a
// permission gate.
func (s *Service) AddOrgMembershipBootstrap(ctx context.Context, userID, orgID string, roleIDs []string) error {
	return s.addOrgMembership(ctx, userID, orgID, roleIDs)
}

func (s *Service) addOrgMembership(ctx context.Context, userID, orgID string, roleIDs []string) error {
	if orgID == "" {
		return ErrMissingFields
	}
	for _, roleID := range roleIDs {
		role, err := s.resolver.ResolveRole(ctx, roleID, orgID)
		if err != nil {
			return err
		}
		if !role.Predefined && role.OrgID != orgID {
			return ErrCrossOrgRole
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Membership(orgID) != nil {
		return nil // already a member
	}
	user.Orgs = append(user.Orgs, OrgMembership{
		OrgID:    orgID,
		RoleIDs:  append([]string(nil), roleIDs...),
		JoinedAt: time.Now(),
	})
	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

// CreateRoleParams carries the fields for a new custom role.
type CreateRoleParams struct {
	Name        string
	OrgID       string
	Permissions []permission.Permission
}

// CreateRole creates a custom role. With an OrgID it is stored in that
// organization's own database; without one it lands in the global
// directory.
func (s *Service) CreateRole(ctx context.Context, token string, params CreateRoleParams) (*Role, error) {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeRoles, permission.ActionWrite, params.OrgID)); err != nil {
		return nil, err
	}
	return s.createRole(ctx, params)
}

// CreateRoleBootstrap creates a role without a permission gate.
func (s *Service) CreateRoleBootstrap(ctx context.Context, params CreateRoleParams) (*Role, error) {
	return s.createRole(ctx, params)
}

func (s *Service) createRole(ctx context.Context, params CreateRoleParams) (*Role, error) {
	if params.Name == "" {
		return nil, ErrMissingFields
	}

	repo, err := s.roleRepoFor(ctx, params.OrgID, true)
	if err != nil {
		return nil, err
	}
	if existing, err := repo.GetByName(ctx, params.Name); err == nil && existing != nil {
		return nil, ErrRoleAlreadyExists
	}

	now := time.Now()
	role := &Role{
		ID:          id.NewUUIDv7(),
		Name:        params.Name,
		OrgID:       params.OrgID,
		Permissions: append([]permission.Permission(nil), params.Permissions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// UpdateRole replaces a custom role's permissions. Predefined roles are
// immutable.
func (s *Service) UpdateRole(ctx context.Context, token, roleID, orgID string, permissions []permission.Permission) (*Role, error) {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeRoles, permission.ActionUpdate, orgID)); err != nil {
		return nil, err
	}

	role, err := s.resolver.ResolveRole(ctx, roleID, orgID)
	if err != nil {
		return nil, err
	}
	if role.Predefined {
		return nil, ErrPredefinedRole
	}
	if role.OrgID != orgID {
		return nil, ErrCrossOrgRole
	}

	repo, err := s.roleRepoFor(ctx, orgID, true)
	if err != nil {
		return nil, err
	}
	role.Permissions = append([]permission.Permission(nil), permissions...)
	role.UpdatedAt = time.Now()
	if err := repo.Update(ctx, role); err != nil {
		return nil, err
	}

	// Role membership is not cheaply enumerable; flush everything and
	// let the next checks repopulate.
	s.cache.InvalidateAll()
	return role, nil
}

// DeleteRole deletes a custom role. Predefined roles cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, token, roleID, orgID string) error {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeRoles, permission.ActionDelete, orgID)); err != nil {
		return err
	}

	role, err := s.resolver.ResolveRole(ctx, roleID, orgID)
	if err != nil {
		return err
	}
	if role.Predefined {
		return ErrPredefinedRole
	}

	repo, err := s.roleRepoFor(ctx, orgID, true)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, roleID); err != nil {
		return err
	}
	s.cache.InvalidateAll()
	return nil
}

func (s *Service) roleRepoFor(ctx context.Context, orgID string, write bool) (RoleRepository, error) {
	if orgID == "" {
		return s.roles, nil
	}
	if s.tenantRoles == nil {
		return nil, ErrRoleNotFound
	}
	return s.tenantRoles.RolesForOrg(ctx, orgID, write)
}

// CreateGroupParams carries the fields for a new group.
type CreateGroupParams struct {
	Name        string
	RoleIDs     []string
	Permissions []permission.Permission
}

// CreateGroup creates a group, gated on identity.groups.write.
func (s *Service) CreateGroup(ctx context.Context, token string, params CreateGroupParams) (*Group, error) {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeGroups, permission.ActionWrite, "")); err != nil {
		return nil, err
	}
	return s.createGroup(ctx, params)
}

// CreateGroupBootstrap creates a group without a permission gate.
func (s *Service) CreateGroupBootstrap(ctx context.Context, params CreateGroupParams) (*Group, error) {
	return s.createGroup(ctx, params)
}

func (s *Service) createGroup(ctx context.Context, params CreateGroupParams) (*Group, error) {
	if params.Name == "" {
		return nil, ErrMissingFields
	}
	now := time.Now()
	group := &Group{
		ID:          id.NewUUIDv7(),
		Name:        params.Name,
		RoleIDs:     append([]string(nil), params.RoleIDs...),
		Permissions: append([]permission.Permission(nil), params.Permissions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, nil
}

// AddToGroup adds a user to a group. The edge lives on the user record.
func (s *Service) AddToGroup(ctx context.Context, token, userID, groupID string) error {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeGroups, permission.ActionWrite, "")); err != nil {
		return err
	}

	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.InGroup(groupID) {
		return nil
	}
	user.GroupIDs = append(user.GroupIDs, groupID)
	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

// RemoveFromGroup removes a user from a group.
func (s *Service) RemoveFromGroup(ctx context.Context, token, userID, groupID string) error {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeGroups, permission.ActionWrite, "")); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	user.GroupIDs = removeString(user.GroupIDs, groupID)
	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

// DeleteGroup deletes a group and pulls it out of every member, since
// membership is held on the user side.
func (s *Service) DeleteGroup(ctx context.Context, token, groupID string) error {
	if _, err := s.authz.RequirePermission(ctx, token, identityPerm(permission.ScopeGroups, permission.ActionDelete, "")); err != nil {
		return err
	}

	members, err := s.users.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, member := range members {
		member.GroupIDs = removeString(member.GroupIDs, groupID)
		member.UpdatedAt = time.Now()
		if err := s.users.Update(ctx, member); err != nil {
			return fmt.Errorf("failed to detach group from user %s: %w", member.ID, err)
		}
		s.cache.Invalidate(member.ID)
	}

	return s.groups.Delete(ctx, groupID)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
