package auth

import "fmt"

// RoleID is the closed set of permission levels the identity API can attach
// to a user. The numeric values are part of the wire contract with the
// identity API and must not be renumbered.
type RoleID int

const (
	RoleAdmin      RoleID = 1
	RoleManager    RoleID = 2
	RoleSupervisor RoleID = 3
	RoleOperator   RoleID = 4
	RoleViewer     RoleID = 5
)

// Roles lists every valid RoleID. Used by the policy loader to verify that
// the policy table covers the whole enumeration.
func Roles() []RoleID {
	return []RoleID{RoleAdmin, RoleManager, RoleSupervisor, RoleOperator, RoleViewer}
}

// Valid reports whether r is a member of the role enumeration. An identity
// carrying an unrecognized permission is treated as unauthorized everywhere,
// never as unrestricted.
func (r RoleID) Valid() bool {
	return r >= RoleAdmin && r <= RoleViewer
}

func (r RoleID) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	case RoleSupervisor:
		return "supervisor"
	case RoleOperator:
		return "operator"
	case RoleViewer:
		return "viewer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Identity is the authenticated principal produced by a successful login or
// a successful second-factor redemption.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Permission RoleID `json:"permission"`
}

// ChallengeTicket bridges the two requests of a second-factor login. The
// token is presented as a bearer credential on the redeem call; the user ID
// rides in the body. The pair is short-lived and single-use.
type ChallengeTicket struct {
	ChallengeToken string `json:"twofa_token"`
	UserID         string `json:"user_id"`
}

// Complete reports whether both halves of the ticket are present. Callers
// must not attempt redemption with an incomplete ticket.
func (t ChallengeTicket) Complete() bool {
	return t.ChallengeToken != "" && t.UserID != ""
}
