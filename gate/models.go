package gate

import "github.com/linenworks/linengate/auth"

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserInfo is the identity subset exposed to the frontend.
type UserInfo struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Permission auth.RoleID `json:"permission"`
}

// LoginResponse is returned from POST /api/auth/login on full success.
type LoginResponse struct {
	User     UserInfo `json:"user"`
	Redirect string   `json:"redirect"`
}

// ChallengeResponse is returned from POST /api/auth/login when a second
// factor is required. The frontend forwards the client to Redirect, which
// carries the challenge token as a query parameter.
type ChallengeResponse struct {
	TwoFAToken string `json:"twofa_token"`
	UserID     string `json:"user_id"`
	Redirect   string `json:"redirect"`
}

// RedeemRequest is the JSON body for POST /api/auth/2fa. The challenge
// token itself travels in the Authorization header, not here.
type RedeemRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// SessionResponse is returned from GET /api/auth/session.
type SessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *UserInfo `json:"user,omitempty"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

func userInfo(id auth.Identity) UserInfo {
	return UserInfo{
		ID:         id.ID,
		Email:      id.Email,
		Name:       id.Name,
		Permission: id.Permission,
	}
}
