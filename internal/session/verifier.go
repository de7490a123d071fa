package session

import (
	"context"

	"github.com/keyline-id/keyline/internal/permission"
)

// Verifier bridges opaque session tokens to authorization decisions:
// token -> user identity -> permission check. Domain managers consume it
// through their authenticated entry points.
type Verifier struct {
	sessions *Manager
	engine   *permission.Engine
}

// NewVerifier creates a verifier over a session manager and the
// permission engine.
func NewVerifier(sessions *Manager, engine *permission.Engine) *Verifier {
	return &Verifier{sessions: sessions, engine: engine}
}

// VerifyToken resolves a session token to the user ID it authenticates.
func (v *Verifier) VerifyToken(tokenString string) (string, error) {
	claims, err := v.sessions.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// RequirePermission verifies the token and requires the permission in
// one step, returning the authenticated user ID on success. Both
// failure modes collapse to non-enumerating errors.
func (v *Verifier) RequirePermission(ctx context.Context, tokenString string, required permission.Permission) (string, error) {
	userID, err := v.VerifyToken(tokenString)
	if err != nil {
		return "", err
	}
	if err := v.engine.Require(ctx, userID, required); err != nil {
		return "", err
	}
	return userID, nil
}

// HasPermission verifies the token and reports the permission check as a
// boolean; an invalid token is simply false.
func (v *Verifier) HasPermission(ctx context.Context, tokenString string, required permission.Permission) bool {
	userID, err := v.VerifyToken(tokenString)
	if err != nil {
		return false
	}
	return v.engine.HasPermission(ctx, userID, required)
}
