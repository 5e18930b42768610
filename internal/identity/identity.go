// Package identity derives storage-safe user keys from raw account
// identifiers and carries the caller's session context.
package identity

import (
	"errors"
	"strings"
)

// ErrNoSession is returned by operations that require a current-user
// identity when none is available.
var ErrNoSession = errors.New("identity: no session")

// DeriveKey turns an email-like identifier into a key that is safe to use
// as a storage path segment. `.` and `@` are reserved by the storage
// layout, so both are replaced with `-`. Idempotent: applying it to an
// already-derived key is a no-op.
func DeriveKey(raw string) string {
	r := strings.NewReplacer(".", "-", "@", "-")
	return r.Replace(raw)
}

// Session is the current user's identity, threaded explicitly into every
// engine call. It is never read from ambient process state.
type Session struct {
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
}

// UserKey returns the derived storage key for the session's email.
func (s Session) UserKey() string {
	return DeriveKey(s.Email)
}

// Valid reports whether the session carries enough identity to author
// writes.
func (s Session) Valid() bool {
	return s.Email != ""
}
