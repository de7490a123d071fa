package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyline-id/keyline/internal/permission"
)

type staticSubjects struct {
	subjects map[string]*permission.Subject
}

func (s *staticSubjects) Subject(_ context.Context, userID string) (*permission.Subject, error) {
	if subj, ok := s.subjects[userID]; ok {
		return subj, nil
	}
	return nil, permission.ErrUnauthorized
}

type emptyRoles struct{}

func (emptyRoles) Role(context.Context, string, string) (*permission.RoleGrant, error) {
	return nil, permission.ErrUnauthorized
}

type emptyGroups struct{}

func (emptyGroups) Group(context.Context, string) (*permission.GroupGrant, error) {
	return nil, permission.ErrUnauthorized
}

func newVerifier(t *testing.T) (*Verifier, *Manager) {
	t.Helper()

	subjects := &staticSubjects{subjects: map[string]*permission.Subject{
		"u1": {
			UserID: "u1",
			Permissions: []permission.Permission{
				{Resource: permission.ResourceIdentity, Scope: permission.ScopeUsers, Action: permission.ActionRead},
			},
		},
	}}
	engine := permission.NewEngine(subjects, emptyRoles{}, emptyGroups{}, 16, time.Minute)
	mgr := NewManager(newKeyStore(t), "keyline-test", time.Minute)
	return NewVerifier(mgr, engine), mgr
}

func TestVerifier_VerifyToken(t *testing.T) {
	v, mgr := newVerifier(t)

	tok, err := mgr.Issue("u1", "d1")
	require.NoError(t, err)

	userID, err := v.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = v.VerifyToken("bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RequirePermission(t *testing.T) {
	v, mgr := newVerifier(t)
	ctx := context.Background()

	tok, err := mgr.Issue("u1", "d1")
	require.NoError(t, err)

	read := permission.Permission{Resource: permission.ResourceIdentity, Scope: permission.ScopeUsers, Action: permission.ActionRead}
	userID, err := v.RequirePermission(ctx, tok, read)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	del := read
	del.Action = permission.ActionDelete
	_, err = v.RequirePermission(ctx, tok, del)
	assert.ErrorIs(t, err, permission.ErrUnauthorized)

	_, err = v.RequirePermission(ctx, "bogus", read)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_HasPermission(t *testing.T) {
	v, mgr := newVerifier(t)
	ctx := context.Background()

	tok, err := mgr.Issue("u1", "d1")
	require.NoError(t, err)

	read := permission.Permission{Resource: permission.ResourceIdentity, Scope: permission.ScopeUsers, Action: permission.ActionRead}
	assert.True(t, v.HasPermission(ctx, tok, read))
	assert.False(t, v.HasPermission(ctx, "bogus", read))
}
