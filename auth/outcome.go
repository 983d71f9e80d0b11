package auth

// LoginOutcome is the result of a credential verification or a second-factor
// redemption. Exactly one of the three states holds:
//
//   - Success: Identity is non-nil.
//   - ChallengeRequired: Ticket is non-nil (credential step only).
//   - Rejected: Err is one of ErrInvalidCredentials, ErrChallengeInvalid,
//     or ErrTransport.
type LoginOutcome struct {
	Identity *Identity
	Ticket   *ChallengeTicket
	Err      error
}

func (o LoginOutcome) Success() bool {
	return o.Identity != nil
}

func (o LoginOutcome) ChallengeRequired() bool {
	return o.Ticket != nil
}

func (o LoginOutcome) Rejected() bool {
	return o.Err != nil
}

func success(id Identity) LoginOutcome {
	return LoginOutcome{Identity: &id}
}

func challenge(t ChallengeTicket) LoginOutcome {
	return LoginOutcome{Ticket: &t}
}

func rejected(err error) LoginOutcome {
	return LoginOutcome{Err: err}
}
