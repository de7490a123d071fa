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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keyline-id/keyline/internal/org"
)

// OrgRepository implements org.OrganizationRepository
type OrgRepository struct {
	db *DB
}

// NewOrgRepository creates a new organization repository
func NewOrgRepository(db *DB) *OrgRepository {
	return &OrgRepository{db: db}
}

// Create creates a new organization
func (r *OrgRepository) Create(ctx context.Context, o *org.Organization) error {
	metadata, err := json.Marshal(orEmptyMap(o.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO organizations (id, slug, region_path, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.Slug, o.RegionPath, o.Status, metadata, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrgRepository) GetByID(ctx context.Context, id string) (*org.Organization, error) {
	return r.getOne(ctx, `
		SELECT id, slug, region_path, status, metadata, created_at, updated_at
		FROM organizations WHERE id::text = $1
	`, id)
}

// GetBySlug retrieves an organization by slug
func (r *OrgRepository) GetBySlug(ctx context.Context, slug string) (*org.Organization, error) {
	return r.getOne(ctx, `
		SELECT id, slug, region_path, status, metadata, created_at, updated_at
		FROM organizations WHERE slug = $1
	`, slug)
}

// Update updates an organization
func (r *OrgRepository) Update(ctx context.Context, o *org.Organization) error {
	metadata, err := json.Marshal(orEmptyMap(o.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE organizations
		SET slug = $2, region_path = $3, status = $4, metadata = $5, updated_at = $6
		WHERE id = $1
	`, o.ID, o.Slug, o.RegionPath, o.Status, metadata, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return org.ErrOrgNotFound
	}
	return nil
}

// List lists organizations with pagination
func (r *OrgRepository) List(ctx context.Context, limit, offset int) ([]*org.Organization, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, slug, region_path, status, metadata, created_at, updated_at
		FROM organizations ORDER BY created_at LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*org.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (r *OrgRepository) getOne(ctx context.Context, query string, arg any) (*org.Organization, error) {
	o, err := scanOrg(r.db.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrOrgNotFound
		}
		return nil, err
	}
	return o, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func scanOrg(row pgx.Row) (*org.Organization, error) {
	var o org.Organization
	var metadata []byte

	if err := row.Scan(
		&o.ID, &o.Slug, &o.RegionPath, &o.Status,
		&metadata, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &o, nil
}

// RegionRepository implements org.RegionRepository
type RegionRepository struct {
	db *DB
}

// NewRegionRepository creates a new region repository
func NewRegionRepository(db *DB) *RegionRepository {
	return &RegionRepository{db: db}
}

// Create creates a new region
func (r *RegionRepository) Create(ctx context.Context, region *org.Region) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO regions (path, is_global, is_active, object_connection_uri, cache_connection_uri, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		region.Path, region.IsGlobal, region.IsActive,
		region.Metadata.ObjectConnectionURI, region.Metadata.CacheConnectionURI,
		region.CreatedAt, region.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert region: %w", err)
	}
	return nil
}

// GetByPath retrieves a region by path
func (r *RegionRepository) GetByPath(ctx context.Context, path string) (*org.Region, error) {
	region, err := scanRegion(r.db.pool.QueryRow(ctx, `
		SELECT path, is_global, is_active, object_connection_uri, cache_connection_uri, created_at, updated_at
		FROM regions WHERE path = $1
	`, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrRegionNotFound
		}
		return nil, err
	}
	return region, nil
}

// GetGlobal retrieves the single global region
func (r *RegionRepository) GetGlobal(ctx context.Context) (*org.Region, error) {
	region, err := scanRegion(r.db.pool.QueryRow(ctx, `
		SELECT path, is_global, is_active, object_connection_uri, cache_connection_uri, created_at, updated_at
		FROM regions WHERE is_global
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrRegionNotFound
		}
		return nil, err
	}
	return region, nil
}

// Update updates a region
func (r *RegionRepository) Update(ctx context.Context, region *org.Region) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE regions
		SET is_global = $2, is_active = $3, object_connection_uri = $4, cache_connection_uri = $5, updated_at = $6
		WHERE path = $1
	`,
		region.Path, region.IsGlobal, region.IsActive,
		region.Metadata.ObjectConnectionURI, region.Metadata.CacheConnectionURI,
		region.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update region: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return org.ErrRegionNotFound
	}
	return nil
}

// List lists all regions
func (r *RegionRepository) List(ctx context.Context) ([]*org.Region, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT path, is_global, is_active, object_connection_uri, cache_connection_uri, created_at, updated_at
		FROM regions ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var regions []*org.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

func scanRegion(row pgx.Row) (*org.Region, error) {
	var region org.Region
	if err := row.Scan(
		&region.Path, &region.IsGlobal, &region.IsActive,
		&region.Metadata.ObjectConnectionURI, &region.Metadata.CacheConnectionURI,
		&region.CreatedAt, &region.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &region, nil
}
