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

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/httperr"
	"github.com/keyline-id/keyline/internal/identity"
	"github.com/keyline-id/keyline/internal/observability/logger"
	"github.com/keyline-id/keyline/internal/org"
	"github.com/keyline-id/keyline/internal/permission"
	"github.com/keyline-id/keyline/internal/session"
	"github.com/keyline-id/keyline/internal/token"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	orgService      *org.Service
	sessions        *session.Manager
	verifier        *session.Verifier
	tokens          token.Store
	auditLogger     audit.Logger
	refreshTTL      time.Duration
}

// NewHandler creates a new HTTP handler. refreshTTL bounds issued
// refresh tokens; zero falls back to token.DefaultTTL.
func NewHandler(
	identityService *identity.Service,
	orgService *org.Service,
	sessions *session.Manager,
	verifier *session.Verifier,
	tokens token.Store,
	auditLogger audit.Logger,
	refreshTTL time.Duration,
) *Handler {
	return &Handler{
		identityService: identityService,
		orgService:      orgService,
		sessions:        sessions,
		verifier:        verifier,
		tokens:          tokens,
		auditLogger:     auditLogger,
		refreshTTL:      refreshTTL,
	}
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "keyline",
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

// Login authenticates credentials and issues a session token plus a
// device-bound refresh token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" || req.DeviceID == "" {
		respondHTTPError(w, httperr.MissingFields("email, password, and device_id are required"))
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondHTTPError(w, httperr.Unauthorized())
		return
	}

	h.issueTokenPair(w, r, user.ID, req.DeviceID)
}

// RefreshRequest carries the opaque refresh token to rotate.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates the refresh token and issues a fresh session token.
// Replay of an already-rotated token fails hard and is audited; the
// attacker sees the same opaque 401 as any expired token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondHTTPError(w, httperr.MissingFields("refresh_token is required"))
		return
	}

	rotated, err := h.tokens.Rotate(r.Context(), req.RefreshToken, token.Meta{
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, token.ErrTokenReused) {
			h.onTokenReuse(r)
		}
		respondHTTPError(w, httperr.Unauthorized())
		return
	}

	sessionToken, err := h.sessions.Issue(rotated.UserID, rotated.DeviceID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue session token", logger.Error(err))
		respondHTTPError(w, httperr.Internal())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  sessionToken,
		"refresh_token": rotated.Token,
		"token_type":    "Bearer",
	})
}

// onTokenReuse records a detected refresh-token replay. The store has
// already revoked the token chain; nothing identifying survives to act
// on beyond the request metadata.
func (h *Handler) onTokenReuse(r *http.Request) {
	ctx := r.Context()
	slog.WarnContext(ctx, "refresh token reuse detected", logger.RemoteAddr(r.RemoteAddr))
	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenReused,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})
}

// Logout revokes a single refresh token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondHTTPError(w, httperr.MissingFields("refresh_token is required"))
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		// Revoking an unknown token is not an error worth surfacing.
		slog.DebugContext(r.Context(), "logout with unknown token")
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLogout,
		IPAddress: getIPAddress(r),
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// LogoutAll revokes every refresh token of the authenticated user.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	count, err := h.tokens.RevokeAllForUser(r.Context(), userID)
	if err != nil {
		respondHTTPError(w, httperr.From(err))
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenRevoked,
		ActorID:   userID,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"revoked": count},
	})
	respondJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

// GetCurrentUser returns the authenticated user's record.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identityService.GetUserInternal(r.Context(), GetUserID(r.Context()))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, userResponse(user))
}

// CreateUserRequest represents user creation data
type CreateUserRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	RoleIDs  []string `json:"role_ids,omitempty"`
}

// CreateUser creates a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), GetBearerToken(r.Context()), identity.CreateUserParams{
		Email:    req.Email,
		Password: req.Password,
		RoleIDs:  req.RoleIDs,
	})
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusCreated, userResponse(user))
}

// GetUser retrieves a user by ID.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identityService.GetUser(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, userResponse(user))
}

// ListUsers lists users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identityService.ListUsers(r.Context(), GetBearerToken(r.Context()), 100, 0)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, user := range users {
		out = append(out, userResponse(user))
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// DeleteUser removes a user.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.identityService.DeleteUser(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ChangePassword sets a new password for a user.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}

	err := h.identityService.ChangePassword(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), req.NewPassword)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// RoleGrantRequest represents a role grant
type RoleGrantRequest struct {
	RoleID string `json:"role_id"`
	OrgID  string `json:"org_id,omitempty"`
}

// AssignRole grants a role to a user, globally or inside an org.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req RoleGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoleID == "" {
		respondHTTPError(w, httperr.MissingFields("role_id is required"))
		return
	}

	err := h.identityService.AssignRole(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), req.RoleID, req.OrgID)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "role_assigned"})
}

// RevokeRole removes a role grant from a user.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	err := h.identityService.RevokeRole(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"), orgID)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "role_revoked"})
}

// OrgMembershipRequest represents joining a user to an organization
type OrgMembershipRequest struct {
	OrgID   string   `json:"org_id"`
	RoleIDs []string `json:"role_ids,omitempty"`
}

// AddOrgMembership joins a user to an organization.
func (h *Handler) AddOrgMembership(w http.ResponseWriter, r *http.Request) {
	var req OrgMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		respondHTTPError(w, httperr.MissingFields("org_id is required"))
		return
	}

	err := h.identityService.AddOrgMembership(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), req.OrgID, req.RoleIDs)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "membership_added"})
}

// CreateRoleRequest represents role creation data
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	OrgID       string   `json:"org_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateRole creates a custom role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		respondHTTPError(w, httperr.MissingFields(err.Error()))
		return
	}

	role, err := h.identityService.CreateRole(r.Context(), GetBearerToken(r.Context()), identity.CreateRoleParams{
		Name:        req.Name,
		OrgID:       req.OrgID,
		Permissions: perms,
	})
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusCreated, roleResponse(role))
}

// UpdateRoleRequest represents a role permission update
type UpdateRoleRequest struct {
	OrgID       string   `json:"org_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// UpdateRole replaces a custom role's permissions.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		respondHTTPError(w, httperr.MissingFields(err.Error()))
		return
	}

	role, err := h.identityService.UpdateRole(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "roleID"), req.OrgID, perms)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, roleResponse(role))
}

// DeleteRole deletes a custom role.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	err := h.identityService.DeleteRole(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "roleID"), orgID)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateGroupRequest represents group creation data
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	RoleIDs     []string `json:"role_ids,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateGroup creates a group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		respondHTTPError(w, httperr.MissingFields(err.Error()))
		return
	}

	group, err := h.identityService.CreateGroup(r.Context(), GetBearerToken(r.Context()), identity.CreateGroupParams{
		Name:        req.Name,
		RoleIDs:     req.RoleIDs,
		Permissions: perms,
	})
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": group.ID, "name": group.Name})
}

// DeleteGroup deletes a group and detaches every member.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	err := h.identityService.DeleteGroup(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AddToGroup adds a user to a group.
func (h *Handler) AddToGroup(w http.ResponseWriter, r *http.Request) {
	err := h.identityService.AddToGroup(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), chi.URLParam(r, "groupID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "member_added"})
}

// RemoveFromGroup removes a user from a group.
func (h *Handler) RemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	err := h.identityService.RemoveFromGroup(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "userID"), chi.URLParam(r, "groupID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "member_removed"})
}

// CreateOrgRequest represents organization creation data
type CreateOrgRequest struct {
	Slug       string            `json:"slug"`
	RegionPath string            `json:"region_path,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateOrg creates an organization.
func (h *Handler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}

	organization, err := h.orgService.CreateOrganization(r.Context(), GetBearerToken(r.Context()), org.CreateOrgParams{
		Slug:       req.Slug,
		RegionPath: req.RegionPath,
		Metadata:   req.Metadata,
	})
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusCreated, organization)
}

// GetOrg retrieves an organization by ID or slug.
func (h *Handler) GetOrg(w http.ResponseWriter, r *http.Request) {
	organization, err := h.orgService.GetOrganization(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "orgID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, organization)
}

// ListOrgs lists organizations.
func (h *Handler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.orgService.ListOrganizations(r.Context(), GetBearerToken(r.Context()), 100, 0)
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

// SuspendOrg suspends an organization.
func (h *Handler) SuspendOrg(w http.ResponseWriter, r *http.Request) {
	err := h.orgService.SuspendOrganization(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "orgID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// DeleteOrg marks an organization deleted.
func (h *Handler) DeleteOrg(w http.ResponseWriter, r *http.Request) {
	err := h.orgService.DeleteOrganization(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "orgID"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateRegionRequest represents region registration data
type CreateRegionRequest struct {
	Path                string `json:"path"`
	IsGlobal            bool   `json:"is_global"`
	ObjectConnectionURI string `json:"object_connection_uri"`
	CacheConnectionURI  string `json:"cache_connection_uri,omitempty"`
}

// CreateRegion registers a region.
func (h *Handler) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var req CreateRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondHTTPError(w, httperr.MissingFields("invalid request body"))
		return
	}

	region, err := h.orgService.CreateRegion(r.Context(), GetBearerToken(r.Context()), org.CreateRegionParams{
		Path:     req.Path,
		IsGlobal: req.IsGlobal,
		Metadata: org.RegionMetadata{
			ObjectConnectionURI: req.ObjectConnectionURI,
			CacheConnectionURI:  req.CacheConnectionURI,
		},
	})
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusCreated, region)
}

// ListRegions lists regions.
func (h *Handler) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.orgService.ListRegions(r.Context(), GetBearerToken(r.Context()))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

// PromoteRegion makes a region the global one.
func (h *Handler) PromoteRegion(w http.ResponseWriter, r *http.Request) {
	err := h.orgService.PromoteGlobal(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "path"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

// DemoteRegion marks a region inactive. Demoting the global region is
// rejected; promote a replacement first.
func (h *Handler) DemoteRegion(w http.ResponseWriter, r *http.Request) {
	err := h.orgService.DemoteRegion(r.Context(), GetBearerToken(r.Context()), chi.URLParam(r, "path"))
	if err != nil {
		respondHTTPError(w, mapError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "demoted"})
}

// issueTokenPair mints a session token and a refresh token for a
// freshly authenticated user.
func (h *Handler) issueTokenPair(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	sessionToken, err := h.sessions.Issue(userID, deviceID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue session token", logger.Error(err))
		respondHTTPError(w, httperr.Internal())
		return
	}

	refresh, err := h.tokens.Create(r.Context(), token.CreateParams{
		UserID:    userID,
		DeviceID:  deviceID,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		TTL:       h.refreshTTL,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create refresh token", logger.Error(err))
		respondHTTPError(w, httperr.Internal())
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   userID,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"device_id": deviceID},
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  sessionToken,
		"refresh_token": refresh.Token,
		"token_type":    "Bearer",
	})
}

func userResponse(user *identity.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"role_ids":  user.RoleIDs,
		"group_ids": user.GroupIDs,
		"orgs":      user.Orgs,
	}
}

func roleResponse(role *identity.Role) map[string]any {
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.Humanize())
	}
	return map[string]any{
		"id":          role.ID,
		"name":        role.Name,
		"org_id":      role.OrgID,
		"predefined":  role.Predefined,
		"permissions": perms,
	}
}

func parsePermissions(raw []string) ([]permission.Permission, error) {
	perms := make([]permission.Permission, 0, len(raw))
	for _, s := range raw {
		p, err := permission.Parse(s)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// mapError translates domain errors to the stable boundary taxonomy.
func mapError(err error) *httperr.Error {
	switch {
	case errors.Is(err, identity.ErrMissingFields):
		return httperr.MissingFields("required fields are missing")
	case errors.Is(err, identity.ErrUserNotFound):
		return httperr.NotFound(httperr.CodeUserNotFound)
	case errors.Is(err, identity.ErrRoleNotFound):
		return httperr.NotFound(httperr.CodeRoleNotFound)
	case errors.Is(err, identity.ErrGroupNotFound):
		return httperr.NotFound(httperr.CodeGroupNotFound)
	case errors.Is(err, org.ErrOrgNotFound), errors.Is(err, org.ErrOrgNotActive):
		return httperr.NotFound(httperr.CodeOrgNotFound)
	case errors.Is(err, org.ErrRegionNotFound):
		return httperr.NotFound(httperr.CodeRegionNotFound)
	case errors.Is(err, identity.ErrUserAlreadyExists),
		errors.Is(err, identity.ErrRoleAlreadyExists),
		errors.Is(err, org.ErrOrgAlreadyExists),
		errors.Is(err, org.ErrRegionAlreadyExists):
		return httperr.Conflict("already exists")
	case errors.Is(err, identity.ErrCrossOrgRole):
		return httperr.CrossOrgRole()
	case errors.Is(err, identity.ErrPredefinedRole), errors.Is(err, org.ErrLastGlobalRegion):
		return httperr.GlobalOnly()
	case errors.Is(err, identity.ErrNotOrgMember):
		return httperr.OrgAccessDenied()
	case errors.Is(err, permission.ErrUnauthorized):
		return httperr.OrgAccessDenied()
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, session.ErrInvalidToken):
		return httperr.Unauthorized()
	default:
		return httperr.From(err)
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondHTTPError(w http.ResponseWriter, he *httperr.Error) {
	respondJSON(w, he.Status, he)
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
