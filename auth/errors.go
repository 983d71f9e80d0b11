package auth

import "errors"

var (
	// ErrInvalidCredentials covers wrong email/password and any account-level
	// rejection. The message never distinguishes an unknown email from a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrChallengeInvalid covers an expired or already-redeemed challenge
	// ticket as well as a wrong one-time code. Recovery is restarting the
	// login flow from the credential step.
	ErrChallengeInvalid = errors.New("second-factor challenge expired or invalid")

	// ErrTransport indicates the identity API was unreachable, timed out, or
	// returned a malformed response. Retryable by resubmitting.
	ErrTransport = errors.New("identity service unavailable")
)
