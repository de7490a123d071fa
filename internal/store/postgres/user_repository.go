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

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	roleIDs, permissions, groupIDs, orgs, err := marshalUserEdges(user)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role_ids, permissions, group_ids, orgs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID, user.Email, user.PasswordHash,
		roleIDs, permissions, groupIDs, orgs,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, role_ids, permissions, group_ids, orgs, created_at, updated_at
		FROM users WHERE id::text = $1
	`, id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, role_ids, permissions, group_ids, orgs, created_at, updated_at
		FROM users WHERE email = $1
	`, email)
}

// Update updates a user record
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	roleIDs, permissions, groupIDs, orgs, err := marshalUserEdges(user)
	if err != nil {
		return err
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, role_ids = $4, permissions = $5,
		    group_ids = $6, orgs = $7, updated_at = $8
		WHERE id = $1
	`,
		user.ID, user.Email, user.PasswordHash,
		roleIDs, permissions, groupIDs, orgs,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Delete removes a user
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// List lists users with pagination
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, email, password_hash, role_ids, permissions, group_ids, orgs, created_at, updated_at
		FROM users ORDER BY created_at LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListByGroup returns every user holding groupID
func (r *UserRepository) ListByGroup(ctx context.Context, groupID string) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, email, password_hash, role_ids, permissions, group_ids, orgs, created_at, updated_at
		FROM users WHERE group_ids @> to_jsonb($1::text)
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by group: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, query, arg)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func marshalUserEdges(user *identity.User) (roleIDs, permissions, groupIDs, orgs []byte, err error) {
	if roleIDs, err = json.Marshal(orEmptyStrings(user.RoleIDs)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal role ids: %w", err)
	}
	if permissions, err = json.Marshal(user.Permissions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if groupIDs, err = json.Marshal(orEmptyStrings(user.GroupIDs)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal group ids: %w", err)
	}
	if orgs, err = json.Marshal(user.Orgs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal org memberships: %w", err)
	}
	return roleIDs, permissions, groupIDs, orgs, nil
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	var roleIDs, permissions, groupIDs, orgs []byte

	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash,
		&roleIDs, &permissions, &groupIDs, &orgs,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(roleIDs, &user.RoleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role ids: %w", err)
	}
	if err := json.Unmarshal(permissions, &user.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	if err := json.Unmarshal(groupIDs, &user.GroupIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group ids: %w", err)
	}
	if err := json.Unmarshal(orgs, &user.Orgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal org memberships: %w", err)
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]*identity.User, error) {
	var users []*identity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
