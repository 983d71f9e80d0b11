// Package session owns the client-held session artifact: an encrypted,
// HMAC-authenticated cookie carrying the authenticated identity and its
// role. The cookie is opaque to the client; any tampering invalidates the
// whole artifact, so the permission field cannot be modified without
// producing an unreadable session.
package session

import (
	"time"

	"github.com/linenworks/linengate/auth"
)

// Session is what the client holds across requests. It is created only by
// Store.Issue from an identity produced by the credential or challenge
// flow — never from client-supplied input.
type Session struct {
	UserID     string      `json:"uid"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Permission auth.RoleID `json:"permission"`
	IssuedAt   time.Time   `json:"iat"`
}

// Identity reconstructs the identity embedded in the session.
func (s Session) Identity() auth.Identity {
	return auth.Identity{
		ID:         s.UserID,
		Email:      s.Email,
		Name:       s.Name,
		Permission: s.Permission,
	}
}

// HasRecognizedRole reports whether the session's permission is a member of
// the role enumeration. A session without a recognized permission is
// treated as unauthorized, never as unrestricted.
func (s Session) HasRecognizedRole() bool {
	return s.Permission.Valid()
}
