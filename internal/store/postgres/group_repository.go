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

// GroupRepository implements identity.GroupRepository
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create creates a new group
func (r *GroupRepository) Create(ctx context.Context, group *identity.Group) error {
	roleIDs, permissions, err := marshalGroupEdges(group)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO groups (id, name, role_ids, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, group.ID, group.Name, roleIDs, permissions, group.CreatedAt, group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GetByID retrieves a group by ID
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*identity.Group, error) {
	group, err := scanGroup(r.db.pool.QueryRow(ctx, `
		SELECT id, name, role_ids, permissions, created_at, updated_at
		FROM groups WHERE id::text = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

// Update updates a group
func (r *GroupRepository) Update(ctx context.Context, group *identity.Group) error {
	roleIDs, permissions, err := marshalGroupEdges(group)
	if err != nil {
		return err
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE groups SET name = $2, role_ids = $3, permissions = $4, updated_at = $5 WHERE id = $1
	`, group.ID, group.Name, roleIDs, permissions, group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrGroupNotFound
	}
	return nil
}

// Delete removes a group
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrGroupNotFound
	}
	return nil
}

// List lists all groups
func (r *GroupRepository) List(ctx context.Context) ([]*identity.Group, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, role_ids, permissions, created_at, updated_at
		FROM groups ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*identity.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func marshalGroupEdges(group *identity.Group) (roleIDs, permissions []byte, err error) {
	if roleIDs, err = json.Marshal(orEmptyStrings(group.RoleIDs)); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal role ids: %w", err)
	}
	if permissions, err = json.Marshal(group.Permissions); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return roleIDs, permissions, nil
}

func scanGroup(row pgx.Row) (*identity.Group, error) {
	var group identity.Group
	var roleIDs, permissions []byte

	if err := row.Scan(
		&group.ID, &group.Name, &roleIDs, &permissions,
		&group.CreatedAt, &group.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roleIDs, &group.RoleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role ids: %w", err)
	}
	if err := json.Unmarshal(permissions, &group.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return &group, nil
}
