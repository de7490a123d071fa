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
	"time"
)

// Status constants
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

var (
	ErrOrgNotFound         = errors.New("organization not found")
	ErrOrgNotActive        = errors.New("organization is not active")
	ErrOrgAlreadyExists    = errors.New("organization already exists")
	ErrRegionNotFound      = errors.New("region not found")
	ErrRegionAlreadyExists = errors.New("region already exists")
	ErrNoGlobalRegion      = errors.New("no global region configured")
	ErrLastGlobalRegion    = errors.New("cannot demote the last global region")
	ErrRegionNoURI         = errors.New("region has no object connection uri")
)

// Organization is the tenant boundary. Only active organizations
// resolve through the router.
type Organization struct {
	ID         string            `json:"id"`
	Slug       string            `json:"slug"`
	RegionPath string            `json:"region_path"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RegionMetadata carries a region's connection endpoints.
type RegionMetadata struct {
	ObjectConnectionURI string `json:"object_connection_uri"`
	CacheConnectionURI  string `json:"cache_connection_uri"`
}

// Region is a physical deployment unit owning database endpoints.
// Exactly one region is global at any time; all tenant writes land
// there.
type Region struct {
	Path      string         `json:"path"`
	IsGlobal  bool           `json:"is_global"`
	IsActive  bool           `json:"is_active"`
	Metadata  RegionMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OrganizationRepository defines the interface for organization storage
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	List(ctx context.Context, limit, offset int) ([]*Organization, error)
}

// RegionRepository defines the interface for region storage
type RegionRepository interface {
	Create(ctx context.Context, region *Region) error
	GetByPath(ctx context.Context, path string) (*Region, error)
	GetGlobal(ctx context.Context) (*Region, error)
	Update(ctx context.Context, region *Region) error
	List(ctx context.Context) ([]*Region, error)
}
