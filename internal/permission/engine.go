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
	"context"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Subject is the engine's view of a user: direct grants plus role and
// group references. OrgRoles maps organization IDs to role IDs granted
// through that organization's membership.
type Subject struct {
	UserID      string
	Permissions []Permission
	RoleIDs     []string
	GroupIDs    []string
	OrgRoles    map[string][]string
}

// RoleGrant is the engine's view of a role. Predefined roles are global
// and apply in any organization; custom roles apply only inside OrgID.
type RoleGrant struct {
	ID          string
	OrgID       string
	Predefined  bool
	Permissions []Permission
}

/// GroupGrant is the engine's view of a group: its own direct permissions
// plus the roles it bundles.
type GroupGrant struct {
	ID          string
	RoleIDs     []string
	Permissions []Permission
}

// SubjectSource resolves a user into a Subject.
type SubjectSource interface {
	Subject(ctx context.Context, userID string) (*Subject, error)
}

// RoleSource resolves a role by ID. orgID carries the organization the
// check is scoped to, so implementations can reach org-local custom roles.
type RoleSource interface {
	Role(ctx context.Context, roleID, orgID string) (*RoleGrant, error)
}

// GroupSource resolves a group by ID.
type GroupSource interface {
	Group(ctx context.Context, groupID string) (*GroupGrant, error)
}

// mask is the OR-combined grant bits for one resource.
type mask struct {
	action Action
	scope  Scope
}

// grantSet maps resource name to its combined mask.
type grantSet map[string]mask

const (
	// DefaultCacheSize bounds the number of (user, org) entries held.
	DefaultCacheSize = 1000
	// DefaultCacheTTL bounds how stale a cached decision set may be after
	// a role or group change that was not explicitly invalidated.
	DefaultCacheTTL = 60 * time.Second
)

// Engine answers permission checks by aggregating a user's direct grants
// with the grants of their roles and groups, org-aware, behind a bounded
// LRU+TTL cache. The boolean API fails closed: any resolution error is a
// deny, never an error surfaced to the guard.
type Engine struct {
	subjects SubjectSource
	roles    RoleSource
	groups   GroupSource
	cache    *lru.LRU[string, grantSet]
}

// NewEngine creates an engine with the given sources. size <= 0 and
// ttl <= 0 fall back to the defaults.
func NewEngine(subjects SubjectSource, roles RoleSource, groups GroupSource, size int, ttl time.Duration) *Engine {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		subjects: subjects,
		roles:    roles,
		groups:   groups,
		cache:    lru.NewLRU[string, grantSet](size, nil, ttl),
	}
}

// HasPermission reports whether userID holds required, scoped to
// required.OrgID when set. It never returns true on partial data.
func (e *Engine) HasPermission(ctx context.Context, userID string, required Permission) bool {
	set, ok := e.cache.Get(cacheKey(userID, required.OrgID))
	if !ok {
		resolved, err := e.resolve(ctx, userID, required.OrgID)
		if err != nil {
			slog.Warn("permission resolution failed, denying",
				slog.String("user_id", userID),
				slog.String("org_id", required.OrgID),
				slog.String("error", err.Error()),
			)
			return false
		}
		set = resolved
		e.cache.Add(cacheKey(userID, required.OrgID), set)
	}

	m, ok := set[required.Resource]
	if !ok {
		return false
	}
	return m.action.Has(required.Action) && m.scope.Has(required.Scope)
}

// Require is the throwing variant of HasPermission for guard helpers.
// It returns ErrUnauthorized on a deny and never explains which
// permission was missing.
func (e *Engine) Require(ctx context.Context, userID string, required Permission) error {
	if !e.HasPermission(ctx, userID, required) {
		return ErrUnauthorized
	}
	return nil
}

// Invalidate drops every cached decision set for userID, across all org
// scopes. Managers call this after mutating the user's grants.
func (e *Engine) Invalidate(userID string) {
	prefix := userID + "|"
	for _, key := range e.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			e.cache.Remove(key)
		}
	}
}

// InvalidateAll empties the cache. Used after role or group definition
// changes whose member sets are not cheaply enumerable.
func (e *Engine) InvalidateAll() {
	e.cache.Purge()
}

func cacheKey(userID, orgID string) string {
	return userID + "|" + orgID
}

// resolve aggregates the subject's effective grants for one org scope.
func (e *Engine) resolve(ctx context.Context, userID, orgID string) (grantSet, error) {
	subj, err := e.subjects.Subject(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := make(grantSet)

	for _, p := range subj.Permissions {
		mergeGrant(set, p, orgID)
	}

	roleIDs := append([]string(nil), subj.RoleIDs...)
	if orgID != "" {
		roleIDs = append(roleIDs, subj.OrgRoles[orgID]...)
	}
	if err := e.mergeRoles(ctx, set, roleIDs, orgID); err != nil {
		return nil, err
	}

	for _, groupID := range subj.GroupIDs {
		group, err := e.groups.Group(ctx, groupID)
		if err != nil {
			return nil, err
		}
		for _, p := range group.Permissions {
			mergeGrant(set, p, orgID)
		}
		if err := e.mergeRoles(ctx, set, group.RoleIDs, orgID); err != nil {
			return nil, err
		}
	}

	return set, nil
}

func (e *Engine) mergeRoles(ctx context.Context, set grantSet, roleIDs []string, orgID string) error {
	for _, roleID := range roleIDs {
		role, err := e.roles.Role(ctx, roleID, orgID)
		if err != nil {
			return err
		}
		// Custom roles only count inside their own organization.
		if !role.Predefined && role.OrgID != orgID {
			continue
		}
		for _, p := range role.Permissions {
			mergeGrant(set, p, orgID)
		}
	}
	return nil
}

// mergeGrant ORs p into the set if p applies to the requested org scope.
func mergeGrant(set grantSet, p Permission, orgID string) {
	if p.OrgID != "" && p.OrgID != orgID {
		return
	}
	m := set[p.Resource]
	m.action |= p.Action
	m.scope |= p.Scope
	set[p.Resource] = m
}
