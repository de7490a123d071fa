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
	"time"

	"github.com/keyline-id/keyline/internal/permission"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleAlreadyExists  = errors.New("role already exists")
	ErrGroupNotFound      = errors.New("group not found")
	ErrMissingFields      = errors.New("required fields are missing")
	ErrPredefinedRole     = errors.New("predefined roles are immutable")
	ErrCrossOrgRole       = errors.New("role belongs to a different organization")
	ErrNotOrgMember       = errors.New("user is not a member of the organization")
)

// OrgMembership binds a user to an organization with the roles granted
// inside it.
type OrgMembership struct {
	OrgID    string    `json:"org_id"`
	RoleIDs  []string  `json:"role_ids"`
	JoinedAt time.Time `json:"joined_at"`
}

// User is an identity record. Role and group grants are held by
// reference; group membership lives on the user (GroupIDs), never on the
// group, so deleting a group must pull itself out of every member.
//
// A user with no org memberships whose direct roles carry global grants
// acts as a global administrator: predefined role permissions apply in
// every org scope, so no special casing is needed in the engine.
type User struct {
	ID           string                  `json:"id"`
	Email        string                  `json:"email"`
	PasswordHash string                  `json:"-"`
	RoleIDs      []string                `json:"role_ids"`
	Permissions  []permission.Permission `json:"permissions"`
	GroupIDs     []string                `json:"group_ids"`
	Orgs         []OrgMembership         `json:"orgs"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Membership returns the user's membership in orgID, if any.
func (u *User) Membership(orgID string) *OrgMembership {
	for i := range u.Orgs {
		if u.Orgs[i].OrgID == orgID {
			return &u.Orgs[i]
		}
	}
	return nil
}

// InGroup reports whether the user belongs to groupID.
func (u *User) InGroup(groupID string) bool {
	for _, id := range u.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Role is a named bundle of permissions. Predefined roles are global,
// immutable, and seeded at bootstrap; custom roles belong to exactly one
// organization.
type Role struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	OrgID       string                  `json:"org_id,omitempty"`
	Predefined  bool                    `json:"predefined"`
	Permissions []permission.Permission `json:"permissions"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Group is a named bundle of role references plus direct permissions.
// Groups do not track their members; users do.
type Group struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	RoleIDs     []string                `json:"role_ids"`
	Permissions []permission.Permission `json:"permissions"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*User, error)

	// ListByGroup returns every user holding groupID in GroupIDs; used
	// when a group is deleted.
	ListByGroup(ctx context.Context, groupID string) ([]*User, error)
}

// RoleRepository defines the interface for role persistence. A global
// repository holds predefined roles; tenant-scoped repositories hold an
// organization's custom roles.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Role, error)
}

// GroupRepository defines the interface for group persistence.
type GroupRepository interface {
	Create(ctx context.Context, group *Group) error
	GetByID(ctx context.Context, id string) (*Group, error)
	Update(ctx context.Context, group *Group) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Group, error)
}
