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
	"errors"
	"fmt"
	"time"

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/id"
	"github.com/keyline-id/keyline/internal/identity"
	"github.com/keyline-id/keyline/internal/permission"
)

// Service provides organization and region management business logic.
type Service struct {
	orgs        OrganizationRepository
	regions     RegionRepository
	router      *Router
	authz       identity.Authorizer
	auditLogger audit.Logger
}

// NewService creates a new organization service. router may be nil when
// no tenant databases are in play (tests, CLI tooling).
func NewService(
	orgs OrganizationRepository,
	regions RegionRepository,
	router *Router,
	authz identity.Authorizer,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		orgs:        orgs,
		regions:     regions,
		router:      router,
		authz:       authz,
		auditLogger: auditLogger,
	}
}

func orgPerm(scope permission.Scope, action permission.Action) permission.Permission {
	return permission.Permission{
		Resource: permission.ResourceIdentity,
		Scope:    scope,
		Action:   action,
	}
}

// CreateOrgParams carries the fields for a new organization.
type CreateOrgParams struct {
	Slug       string
	RegionPath string
	Metadata   map[string]string
}

// CreateOrganization creates an organization, gated on
// identity.organizations.write.
func (s *Service) CreateOrganization(ctx context.Context, token string, params CreateOrgParams) (*Organization, error) {
	actor, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeOrganizations, permission.ActionWrite))
	if err != nil {
		return nil, err
	}
	return s.createOrganization(ctx, actor, params)
}

// CreateOrganizationBootstrap creates an organization without a
// permission gate, for internal seeding.
func (s *Service) CreateOrganizationBootstrap(ctx context.Context, params CreateOrgParams) (*Organization, error) {
	return s.createOrganization(ctx, audit.ActorSystemBootstrap, params)
}

func (s *Service) createOrganization(ctx context.Context, actor string, params CreateOrgParams) (*Organization, error) {
	if params.Slug == "" {
		return nil, identity.ErrMissingFields
	}
	if existing, err := s.orgs.GetBySlug(ctx, params.Slug); err == nil && existing != nil {
		return nil, ErrOrgAlreadyExists
	}
	if params.RegionPath != "" {
		if _, err := s.regions.GetByPath(ctx, params.RegionPath); err != nil {
			return nil, fmt.Errorf("region %s: %w", params.RegionPath, err)
		}
	}

	now := time.Now()
	organization := &Organization{
		ID:         id.NewUUIDv7(),
		Slug:       params.Slug,
		RegionPath: params.RegionPath,
		Status:     StatusActive,
		Metadata:   params.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.orgs.Create(ctx, organization); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeOrgCreated,
		OrgID:    organization.ID,
		ActorID:  actor,
		Resource: organization.Slug,
		Metadata: map[string]any{"region": params.RegionPath},
	})
	return organization, nil
}

// GetOrganization retrieves an organization by ID or slug.
func (s *Service) GetOrganization(ctx context.Context, token, orgIDOrSlug string) (*Organization, error) {
	if _, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeOrganizations, permission.ActionRead)); err != nil {
		return nil, err
	}
	organization, err := s.orgs.GetByID(ctx, orgIDOrSlug)
	if err == nil {
		return organization, nil
	}
	return s.orgs.GetBySlug(ctx, orgIDOrSlug)
}

// ListOrganizations lists organizations with pagination.
func (s *Service) ListOrganizations(ctx context.Context, token string, limit, offset int) ([]*Organization, error) {
	if _, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeOrganizations, permission.ActionRead)); err != nil {
		return nil, err
	}
	return s.orgs.List(ctx, limit, offset)
}

// SuspendOrganization moves an organization out of the active state and
// drops its cached connections so no further traffic resolves.
func (s *Service) SuspendOrganization(ctx context.Context, token, orgID string) error {
	return s.setStatus(ctx, token, orgID, StatusSuspended, audit.TypeOrgSuspended)
}

// DeleteOrganization marks an organization deleted. Tenant data stays
// in its database for retention; the org simply stops resolving.
func (s *Service) DeleteOrganization(ctx context.Context, token, orgID string) error {
	return s.setStatus(ctx, token, orgID, StatusDeleted, audit.TypeOrgDeleted)
}

func (s *Service) setStatus(ctx context.Context, token, orgID, status, eventType string) error {
	actor, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeOrganizations, permission.ActionUpdate))
	if err != nil {
		return err
	}

	organization, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return err
	}
	organization.Status = status
	organization.UpdatedAt = time.Now()
	if err := s.orgs.Update(ctx, organization); err != nil {
		return err
	}
	if s.router != nil {
		s.router.Evict(organization.ID)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		OrgID:    organization.ID,
		ActorID:  actor,
		Resource: organization.Slug,
	})
	return nil
}

// CreateRegionParams carries the fields for a new region.
type CreateRegionParams struct {
	Path     string
	IsGlobal bool
	Metadata RegionMetadata
}

// CreateRegion registers a region. Flagging it global demotes the
// previous global region, keeping exactly one at a time.
func (s *Service) CreateRegion(ctx context.Context, token string, params CreateRegionParams) (*Region, error) {
	actor, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeRegions, permission.ActionWrite))
	if err != nil {
		return nil, err
	}
	return s.createRegion(ctx, actor, params)
}

// CreateRegionBootstrap registers a region without a permission gate.
func (s *Service) CreateRegionBootstrap(ctx context.Context, params CreateRegionParams) (*Region, error) {
	return s.createRegion(ctx, audit.ActorSystemBootstrap, params)
}

func (s *Service) createRegion(ctx context.Context, actor string, params CreateRegionParams) (*Region, error) {
	if params.Path == "" {
		return nil, identity.ErrMissingFields
	}
	if existing, err := s.regions.GetByPath(ctx, params.Path); err == nil && existing != nil {
		return nil, ErrRegionAlreadyExists
	}
	if params.IsGlobal && params.Metadata.ObjectConnectionURI == "" {
		return nil, ErrRegionNoURI
	}

	now := time.Now()
	region := &Region{
		Path:      params.Path,
		IsGlobal:  params.IsGlobal,
		IsActive:  true,
		Metadata:  params.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if params.IsGlobal {
		if err := s.demoteGlobal(ctx); err != nil && !errors.Is(err, ErrNoGlobalRegion) {
			return nil, err
		}
	}
	if err := s.regions.Create(ctx, region); err != nil {
		return nil, fmt.Errorf("failed to create region: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRegionCreated,
		ActorID:  actor,
		Resource: region.Path,
		Metadata: map[string]any{"is_global": params.IsGlobal},
	})
	return region, nil
}

// PromoteGlobal makes the named region the global one, demoting the
// current holder. The promoted region must have an object endpoint.
func (s *Service) PromoteGlobal(ctx context.Context, token, path string) error {
	if _, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeRegions, permission.ActionUpdate)); err != nil {
		return err
	}

	region, err := s.regions.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	if region.IsGlobal {
		return nil
	}
	if region.Metadata.ObjectConnectionURI == "" {
		return ErrRegionNoURI
	}

	if err := s.demoteGlobal(ctx); err != nil && !errors.Is(err, ErrNoGlobalRegion) {
		return err
	}
	region.IsGlobal = true
	region.UpdatedAt = time.Now()
	return s.regions.Update(ctx, region)
}

// DemoteRegion clears a region's global flag. The last global region
// can never be demoted directly; promote another one instead.
func (s *Service) DemoteRegion(ctx context.Context, token, path string) error {
	if _, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeRegions, permission.ActionUpdate)); err != nil {
		return err
	}

	region, err := s.regions.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	if region.IsGlobal {
		return ErrLastGlobalRegion
	}
	return nil
}

func (s *Service) demoteGlobal(ctx context.Context) error {
	current, err := s.regions.GetGlobal(ctx)
	if err != nil {
		if errors.Is(err, ErrRegionNotFound) {
			return ErrNoGlobalRegion
		}
		return err
	}
	current.IsGlobal = false
	current.UpdatedAt = time.Now()
	return s.regions.Update(ctx, current)
}

// ListRegions lists all regions.
func (s *Service) ListRegions(ctx context.Context, token string) ([]*Region, error) {
	if _, err := s.authz.RequirePermission(ctx, token, orgPerm(permission.ScopeRegions, permission.ActionRead)); err != nil {
		return nil, err
	}
	return s.regions.List(ctx)
}
