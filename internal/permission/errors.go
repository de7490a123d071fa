package permission

import "errors"

// ErrUnauthorized is returned by Require when the token principal does not
// hold the required permission. The message deliberately names no specific
// permission so callers cannot enumerate the grant space.
var ErrUnauthorized = errors.New("authorization denied")
