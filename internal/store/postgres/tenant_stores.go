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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keyline-id/keyline/internal/identity"
	"github.com/keyline-id/keyline/internal/org"
)

// invalidCatalogName is raised when connecting to a database that does
// not exist yet.
const invalidCatalogName = "3D000"

// TenantStoreFactory opens per-organization databases on a region
// endpoint, creating the database and applying the tenant schema on
// first contact.
type TenantStoreFactory struct{}

// NewTenantStoreFactory creates the production store factory.
func NewTenantStoreFactory() *TenantStoreFactory {
	return &TenantStoreFactory{}
}

// Open implements org.StoreFactory.
func (f *TenantStoreFactory) Open(ctx context.Context, connURI, database string) (org.TenantStores, error) {
	db, err := NewFromDSN(ctx, connURI, database)
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != invalidCatalogName {
			return nil, err
		}
		if err := createDatabase(ctx, connURI, database); err != nil {
			return nil, err
		}
		if db, err = NewFromDSN(ctx, connURI, database); err != nil {
			return nil, err
		}
	}

	if err := db.Migrate(ctx, TenantSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply tenant schema to %s: %w", database, err)
	}

	return &tenantStores{
		db:     db,
		roles:  NewRoleRepository(db),
		groups: NewGroupRepository(db),
	}, nil
}

// createDatabase connects to the region's default database to create
// the tenant database. CREATE DATABASE cannot run inside a
// transaction, so this is a plain Exec on a throwaway connection.
func createDatabase(ctx context.Context, connURI, database string) error {
	admin, err := NewFromDSN(ctx, connURI, "")
	if err != nil {
		return fmt.Errorf("failed to connect for database creation: %w", err)
	}
	defer admin.Close()

	// database comes from DatabaseName and contains only [a-z0-9_].
	if _, err := admin.pool.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %q`, database)); err != nil {
		var pgErr *pgconn.PgError
		// 42P04 duplicate_database: another process won the race.
		if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("failed to create database %s: %w", database, err)
	}
	return nil
}

type tenantStores struct {
	db     *DB
	roles  *RoleRepository
	groups *GroupRepository
}

func (t *tenantStores) Roles() identity.RoleRepository   { return t.roles }
func (t *tenantStores) Groups() identity.GroupRepository { return t.groups }

func (t *tenantStores) SeedRoles(ctx context.Context, roles []*identity.Role) error {
	return t.roles.Seed(ctx, roles)
}

func (t *tenantStores) Close() { t.db.Close() }
