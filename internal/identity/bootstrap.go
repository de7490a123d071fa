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
	"fmt"
	"log/slog"
	"os"

	"github.com/keyline-id/keyline/internal/audit"
)

const (
	EnvBootstrapAdminEmail    = "KEYLINE_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminPassword = "KEYLINE_BOOTSTRAP_ADMIN_PASSWORD"
)

// BootstrapService seeds the global directory on first start: the
// predefined role set, and optionally an initial platform admin taken
// from the environment.
type BootstrapService struct {
	identityService *Service
	roles           RoleRepository
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, roles RoleRepository, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		roles:           roles,
		auditLogger:     auditLogger,
	}
}

// Bootstrap is idempotent: roles already present are left untouched and
// the admin is only created when no user holds that email yet.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	if err := s.seedPredefinedRoles(ctx); err != nil {
		return err
	}
	return s.seedAdmin(ctx)
}

func (s *BootstrapService) seedPredefinedRoles(ctx context.Context) error {
	for _, role := range PredefinedRoles() {
		existing, err := s.roles.GetByID(ctx, role.ID)
		if err == nil && existing != nil {
			continue
		}
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("failed to check predefined role %s: %w", role.Name, err)
		}
		if err := s.roles.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to seed predefined role %s: %w", role.Name, err)
		}
		slog.InfoContext(ctx, "seeded predefined role",
			slog.String("role_id", role.ID),
			slog.String("name", role.Name))
	}
	return nil
}

func (s *BootstrapService) seedAdmin(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapAdminEmail)
	password := os.Getenv(EnvBootstrapAdminPassword)
	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("%s is set but %s is empty", EnvBootstrapAdminEmail, EnvBootstrapAdminPassword)
	}

	user, err := s.identityService.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    email,
		Password: password,
		RoleIDs:  []string{RoleIDPlatformAdmin},
	})
	if errors.Is(err, ErrUserAlreadyExists) {
		// Already bootstrapped, skip silently.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap platform admin: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleAssigned,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: RoleIDPlatformAdmin,
		Metadata: map[string]any{
			"user_id": user.ID,
			"email":   email,
		},
	})

	slog.InfoContext(ctx, "bootstrapped initial platform admin", slog.String("email", email))
	return nil
}
