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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keyline-id/keyline/internal/permission"
)

// Route is one entry of the static route table. Authorization is
// declared here, next to the path, rather than buried in handlers: a
// nil Required on an authenticated route means the handler does its own
// finer-grained check (for example self-or-admin access).
type Route struct {
	Method        string
	Pattern       string
	Authenticated bool
	Required      *permission.Permission
	Handler       http.HandlerFunc
}

func perm(scope permission.Scope, action permission.Action) *permission.Permission {
	return &permission.Permission{
		Resource: permission.ResourceIdentity,
		Scope:    scope,
		Action:   action,
	}
}

// Routes returns the full route table.
func (h *Handler) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/healthz", Handler: h.HealthCheck},

		// Session lifecycle. Login and refresh authenticate by
		// credential or refresh token, not by bearer session.
		{Method: http.MethodPost, Pattern: "/v1/auth/login", Handler: h.Login},
		{Method: http.MethodPost, Pattern: "/v1/auth/refresh", Handler: h.Refresh},
		{Method: http.MethodPost, Pattern: "/v1/auth/logout", Handler: h.Logout},
		{Method: http.MethodPost, Pattern: "/v1/auth/logout-all", Authenticated: true, Handler: h.LogoutAll},
		{Method: http.MethodGet, Pattern: "/v1/auth/me", Authenticated: true, Handler: h.GetCurrentUser},

		// Users. GetUser and ChangePassword allow self access, so the
		// scope check happens in the service layer.
		{Method: http.MethodPost, Pattern: "/v1/users", Authenticated: true, Required: perm(permission.ScopeUsers, permission.ActionWrite), Handler: h.CreateUser},
		{Method: http.MethodGet, Pattern: "/v1/users", Authenticated: true, Required: perm(permission.ScopeUsers, permission.ActionRead), Handler: h.ListUsers},
		{Method: http.MethodGet, Pattern: "/v1/users/{userID}", Authenticated: true, Handler: h.GetUser},
		{Method: http.MethodDelete, Pattern: "/v1/users/{userID}", Authenticated: true, Required: perm(permission.ScopeUsers, permission.ActionDelete), Handler: h.DeleteUser},
		{Method: http.MethodPut, Pattern: "/v1/users/{userID}/password", Authenticated: true, Handler: h.ChangePassword},
		{Method: http.MethodPost, Pattern: "/v1/users/{userID}/roles", Authenticated: true, Required: perm(permission.ScopeRoles, permission.ActionWrite), Handler: h.AssignRole},
		{Method: http.MethodDelete, Pattern: "/v1/users/{userID}/roles/{roleID}", Authenticated: true, Required: perm(permission.ScopeRoles, permission.ActionWrite), Handler: h.RevokeRole},
		{Method: http.MethodPost, Pattern: "/v1/users/{userID}/orgs", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionUpdate), Handler: h.AddOrgMembership},
		{Method: http.MethodPut, Pattern: "/v1/users/{userID}/groups/{groupID}", Authenticated: true, Required: perm(permission.ScopeGroups, permission.ActionUpdate), Handler: h.AddToGroup},
		{Method: http.MethodDelete, Pattern: "/v1/users/{userID}/groups/{groupID}", Authenticated: true, Required: perm(permission.ScopeGroups, permission.ActionUpdate), Handler: h.RemoveFromGroup},

		// Roles and groups.
		{Method: http.MethodPost, Pattern: "/v1/roles", Authenticated: true, Required: perm(permission.ScopeRoles, permission.ActionWrite), Handler: h.CreateRole},
		{Method: http.MethodPut, Pattern: "/v1/roles/{roleID}", Authenticated: true, Required: perm(permission.ScopeRoles, permission.ActionUpdate), Handler: h.UpdateRole},
		{Method: http.MethodDelete, Pattern: "/v1/roles/{roleID}", Authenticated: true, Required: perm(permission.ScopeRoles, permission.ActionDelete), Handler: h.DeleteRole},
		{Method: http.MethodPost, Pattern: "/v1/groups", Authenticated: true, Required: perm(permission.ScopeGroups, permission.ActionWrite), Handler: h.CreateGroup},
		{Method: http.MethodDelete, Pattern: "/v1/groups/{groupID}", Authenticated: true, Required: perm(permission.ScopeGroups, permission.ActionDelete), Handler: h.DeleteGroup},

		// Organizations and regions.
		{Method: http.MethodPost, Pattern: "/v1/orgs", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionWrite), Handler: h.CreateOrg},
		{Method: http.MethodGet, Pattern: "/v1/orgs", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionRead), Handler: h.ListOrgs},
		{Method: http.MethodGet, Pattern: "/v1/orgs/{orgID}", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionRead), Handler: h.GetOrg},
		{Method: http.MethodPost, Pattern: "/v1/orgs/{orgID}/suspend", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionUpdate), Handler: h.SuspendOrg},
		{Method: http.MethodDelete, Pattern: "/v1/orgs/{orgID}", Authenticated: true, Required: perm(permission.ScopeOrganizations, permission.ActionDelete), Handler: h.DeleteOrg},
		{Method: http.MethodPost, Pattern: "/v1/regions", Authenticated: true, Required: perm(permission.ScopeRegions, permission.ActionWrite), Handler: h.CreateRegion},
		{Method: http.MethodGet, Pattern: "/v1/regions", Authenticated: true, Required: perm(permission.ScopeRegions, permission.ActionRead), Handler: h.ListRegions},
		{Method: http.MethodPost, Pattern: "/v1/regions/{path}/promote", Authenticated: true, Required: perm(permission.ScopeRegions, permission.ActionUpdate), Handler: h.PromoteRegion},
		{Method: http.MethodPost, Pattern: "/v1/regions/{path}/demote", Authenticated: true, Required: perm(permission.ScopeRegions, permission.ActionUpdate), Handler: h.DemoteRegion},
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	for _, route := range h.Routes() {
		handler := http.Handler(route.Handler)
		if route.Required != nil {
			handler = h.RequirePermission(*route.Required)(handler)
		}
		if route.Authenticated {
			handler = h.AuthMiddleware(handler)
		}
		r.Method(route.Method, route.Pattern, handler)
	}

	return r
}
