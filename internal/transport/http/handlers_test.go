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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/identity"
	"github.com/keyline-id/keyline/internal/keystore"
	"github.com/keyline-id/keyline/internal/permission"
	"github.com/keyline-id/keyline/internal/session"
	"github.com/keyline-id/keyline/internal/token"
)

// In-memory repositories backing the full stack under test.

type memUsers struct {
	mu    sync.Mutex
	users map[string]*identity.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*identity.User)}
}

func (m *memUsers) Create(ctx context.Context, user *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	m.users[user.ID] = &u
	return nil
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *memUsers) Update(ctx context.Context, user *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return identity.ErrUserNotFound
	}
	u := *user
	m.users[user.ID] = &u
	return nil
}

func (m *memUsers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return identity.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) List(ctx context.Context, limit, offset int) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*identity.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

func (m *memUsers) ListByGroup(ctx context.Context, groupID string) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.User
	for _, u := range m.users {
		for _, g := range u.GroupIDs {
			if g == groupID {
				c := *u
				out = append(out, &c)
				break
			}
		}
	}
	return out, nil
}

type memRoles struct {
	mu    sync.Mutex
	roles map[string]*identity.Role
}

func newMemRoles(seed ...*identity.Role) *memRoles {
	m := &memRoles{roles: make(map[string]*identity.Role)}
	for _, r := range seed {
		c := *r
		m.roles[r.ID] = &c
	}
	return m
}

func (m *memRoles) Create(ctx context.Context, role *identity.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *role
	m.roles[role.ID] = &c
	return nil
}

func (m *memRoles) GetByID(ctx context.Context, id string) (*identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, identity.ErrRoleNotFound
	}
	c := *r
	return &c, nil
}

func (m *memRoles) GetByName(ctx context.Context, name string) (*identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			c := *r
			return &c, nil
		}
	}
	return nil, identity.ErrRoleNotFound
}

func (m *memRoles) Update(ctx context.Context, role *identity.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return identity.ErrRoleNotFound
	}
	c := *role
	m.roles[role.ID] = &c
	return nil
}

func (m *memRoles) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return identity.ErrRoleNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memRoles) List(ctx context.Context) ([]*identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*identity.Role, 0, len(m.roles))
	for _, r := range m.roles {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

type memGroups struct {
	mu     sync.Mutex
	groups map[string]*identity.Group
}

func newMemGroups() *memGroups {
	return &memGroups{groups: make(map[string]*identity.Group)}
}

func (m *memGroups) Create(ctx context.Context, group *identity.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *group
	m.groups[group.ID] = &c
	return nil
}

func (m *memGroups) GetByID(ctx context.Context, id string) (*identity.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, identity.ErrGroupNotFound
	}
	c := *g
	return &c, nil
}

func (m *memGroups) Update(ctx context.Context, group *identity.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.ID]; !ok {
		return identity.ErrGroupNotFound
	}
	c := *group
	m.groups[group.ID] = &c
	return nil
}

func (m *memGroups) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	return nil
}

func (m *memGroups) List(ctx context.Context) ([]*identity.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*identity.Group, 0, len(m.groups))
	for _, g := range m.groups {
		c := *g
		out = append(out, &c)
	}
	return out, nil
}

// testStack wires a real service graph over in-memory stores. It is the
// same composition cmd/server performs, minus postgres and redis.
type testStack struct {
	server *httptest.Server
	users  *memUsers
	tokens token.Store
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx := context.Background()

	users := newMemUsers()
	roles := newMemRoles(identity.PredefinedRoles()...)
	groups := newMemGroups()

	ks := keystore.New(keystore.NewMemoryStore(), time.Hour)
	require.NoError(t, ks.Init(ctx))
	sessions := session.NewManager(ks, "keyline-test", 15*time.Minute)

	resolver := identity.NewRoleResolver(roles, nil)
	directory := identity.NewDirectory(users, groups, resolver)
	engine := permission.NewEngine(directory, directory, directory, 128, time.Minute)
	verifier := session.NewVerifier(sessions, engine)

	tokens := token.NewMemoryStore()
	t.Cleanup(tokens.StopSweep)

	hasher := identity.DefaultPasswordHasher()
	auditLogger := audit.NewSlogLogger()

	svc := identity.NewService(users, roles, groups, resolver, nil, hasher, verifier, engine, tokens, auditLogger)

	h := NewHandler(svc, nil, sessions, verifier, tokens, auditLogger, 0)
	router := NewRouter(h, NewRateLimiter(1000, 1000))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// Seed a platform admin directly, the way Bootstrap would.
	_, err := svc.CreateUserBootstrap(ctx, identity.CreateUserParams{
		Email:    "admin@example.com",
		Password: "admin-secret-1",
		RoleIDs:  []string{identity.RoleIDPlatformAdmin},
	})
	require.NoError(t, err)

	return &testStack{server: server, users: users, tokens: tokens}
}

func (s *testStack) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *testStack) login(t *testing.T, email, password, device string) (access, refresh string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":     email,
		"password":  password,
		"device_id": device,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access, _ = body["access_token"].(string)
	refresh, _ = body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	return access, refresh
}

func TestHTTP_LoginAndMe(t *testing.T) {
	s := newTestStack(t)

	access, _ := s.login(t, "admin@example.com", "admin-secret-1", "laptop")

	resp, body := s.do(t, http.MethodGet, "/v1/auth/me", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin@example.com", body["email"])
}

func TestHTTP_LoginBadCredentials(t *testing.T) {
	s := newTestStack(t)

	resp, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "wrong", "device_id": "laptop",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestHTTP_UnauthenticatedRejected(t *testing.T) {
	s := newTestStack(t)

	resp, _ := s.do(t, http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/v1/users", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTP_CreateUserRequiresPermission(t *testing.T) {
	s := newTestStack(t)
	admin, _ := s.login(t, "admin@example.com", "admin-secret-1", "laptop")

	resp, body := s.do(t, http.MethodPost, "/v1/users", admin, map[string]any{
		"email":    "member@example.com",
		"password": "member-secret",
		"role_ids": []string{identity.RoleIDMember},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "member@example.com", body["email"])

	// The member role cannot create users.
	member, _ := s.login(t, "member@example.com", "member-secret", "phone")
	resp, body = s.do(t, http.MethodPost, "/v1/users", member, map[string]any{
		"email": "other@example.com", "password": "other-secret",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ORG_ACCESS_DENIED", body["error"])
}

func TestHTTP_RefreshRotatesToken(t *testing.T) {
	s := newTestStack(t)
	_, refresh := s.login(t, "admin@example.com", "admin-secret-1", "laptop")

	resp, body := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next, _ := body["refresh_token"].(string)
	require.NotEmpty(t, next)
	assert.NotEqual(t, refresh, next)

	// The replaced token no longer rotates once grace runs out; an
	// unknown token never does.
	resp, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": "bogus-token",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The successor still works.
	resp, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": next,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_LogoutAllRevokesEveryDevice(t *testing.T) {
	s := newTestStack(t)
	access, _ := s.login(t, "admin@example.com", "admin-secret-1", "laptop")
	_, phoneRefresh := s.login(t, "admin@example.com", "admin-secret-1", "phone")

	resp, body := s.do(t, http.MethodPost, "/v1/auth/logout-all", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["revoked"])

	resp, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": phoneRefresh,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTP_RoleLifecycle(t *testing.T) {
	s := newTestStack(t)
	admin, _ := s.login(t, "admin@example.com", "admin-secret-1", "laptop")

	resp, body := s.do(t, http.MethodPost, "/v1/roles", admin, map[string]any{
		"name":        "auditor",
		"permissions": []string{"identity.2.1", "identity.64.1"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roleID, _ := body["id"].(string)
	require.NotEmpty(t, roleID)

	// Predefined roles cannot be deleted.
	resp, body = s.do(t, http.MethodDelete, "/v1/roles/"+identity.RoleIDViewer, admin, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "GLOBAL_ONLY", body["error"])

	resp, _ = s.do(t, http.MethodDelete, "/v1/roles/"+roleID, admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_ErrorTaxonomy(t *testing.T) {
	s := newTestStack(t)
	admin, _ := s.login(t, "admin@example.com", "admin-secret-1", "laptop")

	resp, body := s.do(t, http.MethodGet, "/v1/users/no-such-user", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "USER_NOT_FOUND", body["error"])

	resp, body = s.do(t, http.MethodPost, "/v1/users", admin, map[string]string{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_FIELDS", body["error"])

	resp, body = s.do(t, http.MethodPost, "/v1/users", admin, map[string]string{
		"email": "admin@example.com", "password": "whatever-123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["error"])
}

func TestHTTP_HealthCheck(t *testing.T) {
	s := newTestStack(t)

	resp, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}
