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

	"github.com/keyline-id/keyline/internal/identity"
)

// RoleRepository implements identity.RoleRepository over a single
// database: the global directory or one organization's own database.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *identity.Role) error {
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO roles (id, name, org_id, predefined, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, role.Name, role.OrgID, role.Predefined, permissions, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// Seed inserts roles only if absent, for idempotent predefined-role
// seeding on tenant databases.
func (r *RoleRepository) Seed(ctx context.Context, roles []*identity.Role) error {
	for _, role := range roles {
		permissions, err := json.Marshal(role.Permissions)
		if err != nil {
			return fmt.Errorf("failed to marshal permissions: %w", err)
		}
		_, err = r.db.pool.Exec(ctx, `
			INSERT INTO roles (id, name, org_id, predefined, permissions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, role.ID, role.Name, role.OrgID, role.Predefined, permissions, role.CreatedAt, role.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*identity.Role, error) {
	return r.getOne(ctx, `
		SELECT id, name, org_id, predefined, permissions, created_at, updated_at
		FROM roles WHERE id::text = $1
	`, id)
}

// GetByName retrieves a role by name
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*identity.Role, error) {
	return r.getOne(ctx, `
		SELECT id, name, org_id, predefined, permissions, created_at, updated_at
		FROM roles WHERE name = $1
	`, name)
}

// Update updates a role
func (r *RoleRepository) Update(ctx context.Context, role *identity.Role) error {
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET name = $2, permissions = $3, updated_at = $4 WHERE id = $1
	`, role.ID, role.Name, permissions, role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrRoleNotFound
	}
	return nil
}

// Delete removes a role
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrRoleNotFound
	}
	return nil
}

// List lists all roles
func (r *RoleRepository) List(ctx context.Context) ([]*identity.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, org_id, predefined, permissions, created_at, updated_at
		FROM roles ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*identity.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleRepository) getOne(ctx context.Context, query string, arg any) (*identity.Role, error) {
	role, err := scanRole(r.db.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrRoleNotFound
		}
		return nil, err
	}
	return role, nil
}

func scanRole(row pgx.Row) (*identity.Role, error) {
	var role identity.Role
	var permissions []byte

	if err := row.Scan(
		&role.ID, &role.Name, &role.OrgID, &role.Predefined,
		&permissions, &role.CreatedAt, &role.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permissions, &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return &role, nil
}
