// Package id generates entity identifiers.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID. Falls back to a random v4 in
// the (practically impossible) case the monotonic source fails.
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
