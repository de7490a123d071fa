package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/permission"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*User)}
}

func (m *memUsers) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUsers) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) List(_ context.Context, limit, offset int) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memUsers) ListByGroup(_ context.Context, groupID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.InGroup(groupID) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRoles struct {
	mu    sync.Mutex
	roles map[string]*Role
}

func newMemRoles(seed ...*Role) *memRoles {
	m := &memRoles{roles: make(map[string]*Role)}
	for _, r := range seed {
		cp := *r
		m.roles[r.ID] = &cp
	}
	return m
}

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) GetByID(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) GetByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRoleNotFound
}

func (m *memRoles) Update(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return ErrRoleNotFound
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

type memGroups struct {
	mu     sync.Mutex
	groups map[string]*Group
}

func newMemGroups() *memGroups {
	return &memGroups{groups: make(map[string]*Group)}
}

func (m *memGroups) Create(_ context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *memGroups) GetByID(_ context.Context, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGroups) Update(_ context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *memGroups) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	return nil
}

func (m *memGroups) List(_ context.Context) ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

// allowAll treats the token string as the actor's user ID and grants
// every permission.
type allowAll struct{}

func (allowAll) VerifyToken(token string) (string, error) { return token, nil }

func (allowAll) RequirePermission(_ context.Context, token string, _ permission.Permission) (string, error) {
	return token, nil
}

type denyAll struct{}

func (denyAll) VerifyToken(token string) (string, error) { return token, nil }

func (denyAll) RequirePermission(context.Context, string, permission.Permission) (string, error) {
	return "", permission.ErrUnauthorized
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
	flushedAll  bool
}

func (c *recordingCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
}

func (c *recordingCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushedAll = true
}

type recordingRevoker struct {
	revoked []string
	deleted []string
}

func (r *recordingRevoker) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	r.revoked = append(r.revoked, userID)
	return 1, nil
}

func (r *recordingRevoker) DeleteAllForUser(_ context.Context, userID string) error {
	r.deleted = append(r.deleted, userID)
	return nil
}

type testFixture struct {
	svc    *Service
	users  *memUsers
	roles  *memRoles
	groups *memGroups
	cache  *recordingCache
	tokens *recordingRevoker
}

func newTestService(t *testing.T, authz Authorizer) *testFixture {
	t.Helper()

	users := newMemUsers()
	roles := newMemRoles(PredefinedRoles()...)
	groups := newMemGroups()
	cache := &recordingCache{}
	tokens := &recordingRevoker{}
	resolver := NewRoleResolver(roles, nil)

	svc := NewService(
		users, roles, groups, resolver, nil,
		DefaultPasswordHasher(), authz, cache, tokens,
		audit.NewSlogLogger(),
	)
	return &testFixture{svc: svc, users: users, roles: roles, groups: groups, cache: cache, tokens: tokens}
}

func TestService_CreateUser(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	user, err := f.svc.CreateUser(ctx, "admin", CreateUserParams{
		Email:    "Alice@Example.COM",
		Password: "correct horse battery staple",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "correct horse battery staple", user.PasswordHash)

	_, err = f.svc.CreateUser(ctx, "admin", CreateUserParams{
		Email:    "alice@example.com",
		Password: "another",
	})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = f.svc.CreateUser(ctx, "admin", CreateUserParams{Email: "", Password: "x"})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestService_CreateUser_Denied(t *testing.T) {
	f := newTestService(t, denyAll{})

	_, err := f.svc.CreateUser(context.Background(), "nobody", CreateUserParams{
		Email:    "eve@example.com",
		Password: "pw",
	})
	assert.ErrorIs(t, err, permission.ErrUnauthorized)

	_, lookupErr := f.users.GetByEmail(context.Background(), "eve@example.com")
	assert.ErrorIs(t, lookupErr, ErrUserNotFound)
}

func TestService_Authenticate(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	created, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "bob@example.com",
		Password: "swordfish",
	})
	require.NoError(t, err)

	user, err := f.svc.Authenticate(ctx, "BOB@example.com", "swordfish")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = f.svc.Authenticate(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "swordfish")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ChangePassword_RevokesTokens(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "carol@example.com",
		Password: "old-password",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ChangePassword(ctx, user.ID, user.ID, "new-password"))

	_, err = f.svc.Authenticate(ctx, "carol@example.com", "old-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Authenticate(ctx, "carol@example.com", "new-password")
	assert.NoError(t, err)

	assert.Contains(t, f.tokens.revoked, user.ID)
}

func TestService_DeleteUser_ErasesTokens(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "dave@example.com",
		Password: "pw",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, "admin", user.ID))

	_, err = f.users.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, f.tokens.deleted, user.ID)
	assert.Contains(t, f.cache.invalidated, user.ID)
}

func TestService_AssignRole(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "erin@example.com",
		Password: "pw",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AssignRole(ctx, "admin", user.ID, RoleIDViewer, ""))

	got, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, got.RoleIDs, RoleIDViewer)
	assert.Contains(t, f.cache.invalidated, user.ID)

	// Assigning again is a no-op, not a duplicate.
	require.NoError(t, f.svc.AssignRole(ctx, "admin", user.ID, RoleIDViewer, ""))
	got, err = f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	count := 0
	for _, id := range got.RoleIDs {
		if id == RoleIDViewer {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestService_AssignRole_OrgScoped(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()
	const orgA = "org-a"

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "frank@example.com",
		Password: "pw",
	})
	require.NoError(t, err)

	// Membership must exist before org-scoped grants.
	err = f.svc.AssignRole(ctx, "admin", user.ID, RoleIDOrgAdmin, orgA)
	assert.ErrorIs(t, err, ErrNotOrgMember)

	require.NoError(t, f.svc.AddOrgMembershipBootstrap(ctx, user.ID, orgA, nil))
	require.NoError(t, f.svc.AssignRole(ctx, "admin", user.ID, RoleIDOrgAdmin, orgA))

	got, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	membership := got.Membership(orgA)
	require.NotNil(t, membership)
	assert.Contains(t, membership.RoleIDs, RoleIDOrgAdmin)
}

func TestService_AssignRole_CrossOrgRejected(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	customRole := &Role{ID: "role-b", Name: "auditor", OrgID: "org-b"}
	require.NoError(t, f.roles.Create(ctx, customRole))

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "grace@example.com",
		Password: "pw",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.AddOrgMembershipBootstrap(ctx, user.ID, "org-a", nil))

	err = f.svc.AssignRole(ctx, "admin", user.ID, "role-b", "org-a")
	assert.ErrorIs(t, err, ErrCrossOrgRole)
}

func TestService_UpdateRole_PredefinedImmutable(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	_, err := f.svc.UpdateRole(ctx, "admin", RoleIDViewer, "", nil)
	assert.ErrorIs(t, err, ErrPredefinedRole)

	err = f.svc.DeleteRole(ctx, "admin", RoleIDViewer, "")
	assert.ErrorIs(t, err, ErrPredefinedRole)
}

func TestService_CreateRole_DuplicateName(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	_, err := f.svc.CreateRole(ctx, "admin", CreateRoleParams{Name: "support"})
	require.NoError(t, err)

	_, err = f.svc.CreateRole(ctx, "admin", CreateRoleParams{Name: "support"})
	assert.ErrorIs(t, err, ErrRoleAlreadyExists)
}

func TestService_DeleteRole_FlushesCache(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, "admin", CreateRoleParams{Name: "temp"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteRole(ctx, "admin", role.ID, ""))
	assert.True(t, f.cache.flushedAll)
}

func TestService_Groups(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	group, err := f.svc.CreateGroup(ctx, "admin", CreateGroupParams{
		Name:    "engineering",
		RoleIDs: []string{RoleIDViewer},
	})
	require.NoError(t, err)

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "henry@example.com",
		Password: "pw",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddToGroup(ctx, "admin", user.ID, group.ID))
	got, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.InGroup(group.ID))

	// Unknown group is rejected.
	err = f.svc.AddToGroup(ctx, "admin", user.ID, "missing")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestService_DeleteGroup_DetachesMembers(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	group, err := f.svc.CreateGroup(ctx, "admin", CreateGroupParams{Name: "ops"})
	require.NoError(t, err)

	var memberIDs []string
	for _, email := range []string{"a@example.com", "b@example.com"} {
		u, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{Email: email, Password: "pw"})
		require.NoError(t, err)
		require.NoError(t, f.svc.AddToGroup(ctx, "admin", u.ID, group.ID))
		memberIDs = append(memberIDs, u.ID)
	}

	require.NoError(t, f.svc.DeleteGroup(ctx, "admin", group.ID))

	for _, id := range memberIDs {
		u, err := f.users.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, u.InGroup(group.ID))
		assert.Contains(t, f.cache.invalidated, id)
	}
	_, err = f.groups.GetByID(ctx, group.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestBootstrap_Idempotent(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	t.Setenv(EnvBootstrapAdminEmail, "root@example.com")
	t.Setenv(EnvBootstrapAdminPassword, "initial-secret")

	roles := newMemRoles() // empty: bootstrap must seed predefined roles
	resolver := NewRoleResolver(roles, nil)
	svc := NewService(
		f.users, roles, f.groups, resolver, nil,
		DefaultPasswordHasher(), allowAll{}, f.cache, f.tokens,
		audit.NewSlogLogger(),
	)
	bs := NewBootstrapService(svc, roles, audit.NewSlogLogger())

	require.NoError(t, bs.Bootstrap(ctx))

	for _, role := range PredefinedRoles() {
		_, err := roles.GetByID(ctx, role.ID)
		assert.NoError(t, err, "predefined role %s should be seeded", role.Name)
	}
	admin, err := f.users.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Contains(t, admin.RoleIDs, RoleIDPlatformAdmin)

	// Second run leaves everything in place.
	require.NoError(t, bs.Bootstrap(ctx))
	again, err := f.users.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
}

func TestDirectory_Subject(t *testing.T) {
	f := newTestService(t, allowAll{})
	ctx := context.Background()

	user, err := f.svc.CreateUserBootstrap(ctx, CreateUserParams{
		Email:    "iris@example.com",
		Password: "pw",
		RoleIDs:  []string{RoleIDViewer},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.AddOrgMembershipBootstrap(ctx, user.ID, "org-a", []string{RoleIDOrgAdmin}))

	dir := NewDirectory(f.users, f.groups, NewRoleResolver(f.roles, nil))

	subject, err := dir.Subject(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject.UserID)
	assert.Contains(t, subject.RoleIDs, RoleIDViewer)
	require.Contains(t, subject.OrgRoles, "org-a")
	assert.Contains(t, subject.OrgRoles["org-a"], RoleIDOrgAdmin)

	grant, err := dir.Role(ctx, RoleIDViewer, "")
	require.NoError(t, err)
	assert.True(t, grant.Predefined)
	assert.NotEmpty(t, grant.Permissions)

	_, err = dir.Subject(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
