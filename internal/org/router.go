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
	"log/slog"
	"strings"
	"sync"

	"github.com/keyline-id/keyline/internal/identity"
)

// AccessMode selects the routing path: writes always target the global
// region, reads may use the organization's own regional replica.
type AccessMode int

const (
	ModeRead AccessMode = iota
	ModeWrite
)

func (m AccessMode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// TenantStores is one organization's slice of a regional database:
// repositories bound to the org's own logical database.
type TenantStores interface {
	Roles() identity.RoleRepository
	Groups() identity.GroupRepository
	SeedRoles(ctx context.Context, roles []*identity.Role) error
	Close()
}

// StoreFactory opens tenant stores against a region endpoint and a
// logical database. Production uses pgxpool; tests inject a fake.
type StoreFactory interface {
	Open(ctx context.Context, connURI, database string) (TenantStores, error)
}

// ScopedStores is the resolved handle the router hands out.
type ScopedStores struct {
	OrgID    string
	Database string
	Mode     AccessMode
	stores   TenantStores
}

// Roles returns the org-bound role repository.
func (s *ScopedStores) Roles() identity.RoleRepository { return s.stores.Roles() }

// Groups returns the org-bound group repository.
func (s *ScopedStores) Groups() identity.GroupRepository { return s.stores.Groups() }

type connKey struct {
	orgID string
	mode  AccessMode
}

// Router resolves an organization to tenant-scoped stores, routing
// writes to the global region and reads to the org's own region when it
// has one. Resolved handles are cached per (orgID, mode); read and
// write paths cache independently because they may point at different
// physical endpoints.
type Router struct {
	orgs    OrganizationRepository
	regions RegionRepository
	factory StoreFactory

	mu    sync.Mutex
	conns map[connKey]*ScopedStores
}

// NewRouter creates the organization router.
func NewRouter(orgs OrganizationRepository, regions RegionRepository, factory StoreFactory) *Router {
	return &Router{
		orgs:    orgs,
		regions: regions,
		factory: factory,
		conns:   make(map[connKey]*ScopedStores),
	}
}

// ForOrg resolves an organization by ID or slug and returns stores
// bound to its own logical database on the right regional endpoint.
// Suspended and deleted organizations never resolve.
func (r *Router) ForOrg(ctx context.Context, orgIDOrSlug string, mode AccessMode) (*ScopedStores, error) {
	organization, err := r.resolveOrg(ctx, orgIDOrSlug)
	if err != nil {
		return nil, err
	}
	if organization.Status != StatusActive {
		return nil, fmt.Errorf("organization %s: %w", organization.Slug, ErrOrgNotActive)
	}

	key := connKey{orgID: organization.ID, mode: mode}

	r.mu.Lock()
	defer r.mu.Unlock()
	if scoped, ok := r.conns[key]; ok {
		return scoped, nil
	}

	connURI, err := r.resolveEndpoint(ctx, organization, mode)
	if err != nil {
		return nil, err
	}

	database := DatabaseName(organization.ID)
	stores, err := r.factory.Open(ctx, connURI, database)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant stores for %s: %w", organization.Slug, err)
	}

	// Seeding runs on every cache miss, including reconnection after
	// eviction, so it must stay idempotent.
	if err := stores.SeedRoles(ctx, identity.PredefinedRoles()); err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to seed roles for %s: %w", organization.Slug, err)
	}

	scoped := &ScopedStores{
		OrgID:    organization.ID,
		Database: database,
		Mode:     mode,
		stores:   stores,
	}
	r.conns[key] = scoped

	slog.InfoContext(ctx, "resolved organization stores",
		slog.String("org_id", organization.ID),
		slog.String("database", database),
		slog.String("mode", mode.String()))
	return scoped, nil
}

func (r *Router) resolveOrg(ctx context.Context, orgIDOrSlug string) (*Organization, error) {
	organization, err := r.orgs.GetByID(ctx, orgIDOrSlug)
	if err == nil {
		return organization, nil
	}
	return r.orgs.GetBySlug(ctx, orgIDOrSlug)
}

// resolveEndpoint picks the region URI for the access mode. Writes
// always go to the global region. Reads prefer the org's own region
// when it is active and has an endpoint, falling back to global.
func (r *Router) resolveEndpoint(ctx context.Context, organization *Organization, mode AccessMode) (string, error) {
	global, err := r.regions.GetGlobal(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoGlobalRegion, err)
	}
	if global.Metadata.ObjectConnectionURI == "" {
		return "", fmt.Errorf("global region %s: %w", global.Path, ErrRegionNoURI)
	}
	if mode == ModeWrite || organization.RegionPath == "" || organization.RegionPath == global.Path {
		return global.Metadata.ObjectConnectionURI, nil
	}

	region, err := r.regions.GetByPath(ctx, organization.RegionPath)
	if err != nil {
		return "", fmt.Errorf("region %s: %w", organization.RegionPath, err)
	}
	if !region.IsActive || region.Metadata.ObjectConnectionURI == "" {
		return global.Metadata.ObjectConnectionURI, nil
	}
	return region.Metadata.ObjectConnectionURI, nil
}

// Evict drops an organization's cached stores, both paths, closing the
// underlying connections. The next ForOrg rebuilds and re-seeds.
func (r *Router) Evict(orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mode := range []AccessMode{ModeRead, ModeWrite} {
		key := connKey{orgID: orgID, mode: mode}
		if scoped, ok := r.conns[key]; ok {
			scoped.stores.Close()
			delete(r.conns, key)
		}
	}
}

// Close tears down every cached connection.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, scoped := range r.conns {
		scoped.stores.Close()
		delete(r.conns, key)
	}
}

// RolesForOrg adapts the router to the identity service's tenant store
// contract.
func (r *Router) RolesForOrg(ctx context.Context, orgID string, write bool) (identity.RoleRepository, error) {
	mode := ModeRead
	if write {
		mode = ModeWrite
	}
	scoped, err := r.ForOrg(ctx, orgID, mode)
	if err != nil {
		return nil, err
	}
	return scoped.Roles(), nil
}

// DatabaseName derives the per-organization logical database name from
// the org's own identifier only, so two organizations can never map to
// the same database.
func DatabaseName(orgID string) string {
	var b strings.Builder
	b.WriteString("org_")
	for _, c := range strings.ToLower(orgID) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		case c == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}
