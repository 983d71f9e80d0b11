package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultTimeout = 10 * time.Second
	// maxResponseSize bounds how much of an identity API response is read.
	// Real payloads are a few hundred bytes.
	maxResponseSize = 1 << 16

	loginPath  = "/auth/login"
	redeemPath = "/auth/2fa/verify"
	logoutPath = "/auth/logout"

	gatewayKeyHeader = "X-Gateway-Key"
)

// Verifier exchanges credentials for a login outcome by delegating to the
// external identity API. It never sees password hashes or stored secrets;
// it only interprets the API's response.
//
// Outbound calls carry a bounded timeout. Any transport failure, timeout,
// or unrecognized response maps to a Rejected outcome with a generic
// reason, so callers cannot distinguish "email unknown" from "API down"
// beyond the retryable/non-retryable split in the error taxonomy.
type Verifier struct {
	baseURL string
	client  *http.Client
	timeout time.Duration

	// secret optionally authenticates the gateway itself to the identity
	// API. Held in an Enclave and opened per outbound call.
	secret *memguard.Enclave
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

// WithTimeout bounds each outbound identity API call.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) { v.timeout = d }
}

// WithGatewaySecret sets a shared secret sent on every outbound call. The
// secret bytes are moved into an Enclave; the caller's slice is wiped.
func WithGatewaySecret(secret []byte) Option {
	return func(v *Verifier) {
		if len(secret) > 0 {
			v.secret = memguard.NewEnclave(secret)
		}
	}
}

// NewVerifier creates a Verifier for the identity API rooted at baseURL.
func NewVerifier(baseURL string, opts ...Option) *Verifier {
	v := &Verifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NormalizeEmail validates and canonicalizes a login email: NFKC
// normalization, surrounding whitespace stripped, lowercased. Returns
// ErrInvalidCredentials for anything that does not parse as an address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidCredentials
	}
	return email, nil
}

// userPayload is the identity API's success body.
type userPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Permission int    `json:"permission"`
}

// challengePayload is the identity API's "second factor required" body.
type challengePayload struct {
	TwoFAToken string `json:"twofa_token"`
	UserID     string `json:"user_id"`
}

// Verify checks email/password against the identity API.
//
// Response mapping:
//
//	200 OK       -> Success with the returned identity
//	202 Accepted -> ChallengeRequired with {twofa_token, user_id}
//	401/403      -> Rejected(ErrInvalidCredentials)
//	anything else, malformed bodies, transport errors, timeouts
//	             -> Rejected(ErrTransport)
func (v *Verifier) Verify(ctx context.Context, email, password string) LoginOutcome {
	email, err := NormalizeEmail(email)
	if err != nil {
		return rejected(ErrInvalidCredentials)
	}
	if password == "" {
		return rejected(ErrInvalidCredentials)
	}

	body := map[string]string{"email": email, "password": password}
	status, respBody, err := v.post(ctx, loginPath, "", body)
	if err != nil {
		return rejected(err)
	}

	switch status {
	case http.StatusOK:
		var user userPayload
		if err := json.Unmarshal(respBody, &user); err != nil {
			return rejected(ErrTransport)
		}
		return success(identityFromPayload(user))
	case http.StatusAccepted:
		var ch challengePayload
		if err := json.Unmarshal(respBody, &ch); err != nil {
			return rejected(ErrTransport)
		}
		ticket := ChallengeTicket{ChallengeToken: ch.TwoFAToken, UserID: ch.UserID}
		if !ticket.Complete() {
			return rejected(ErrTransport)
		}
		return challenge(ticket)
	case http.StatusUnauthorized, http.StatusForbidden:
		return rejected(ErrInvalidCredentials)
	default:
		return rejected(ErrTransport)
	}
}

// Redeem exchanges a challenge ticket plus one-time code for an identity.
// The ticket token travels as a bearer credential, never in the body, so a
// stolen user ID alone cannot be redeemed. Exactly one remote attempt is
// made per call.
//
// The outcome is restricted to Success or Rejected; a redeem can never
// produce a further challenge.
func (v *Verifier) Redeem(ctx context.Context, ticket ChallengeTicket, code string) LoginOutcome {
	if !ticket.Complete() {
		return rejected(ErrChallengeInvalid)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return rejected(ErrChallengeInvalid)
	}

	body := map[string]string{"user_id": ticket.UserID, "code": code}
	status, respBody, err := v.post(ctx, redeemPath, ticket.ChallengeToken, body)
	if err != nil {
		return rejected(err)
	}

	switch status {
	case http.StatusOK:
		var user userPayload
		if err := json.Unmarshal(respBody, &user); err != nil {
			return rejected(ErrTransport)
		}
		return success(identityFromPayload(user))
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		return rejected(ErrChallengeInvalid)
	default:
		return rejected(ErrTransport)
	}
}

// SignalLogout tells the identity API to drop any server-side state for the
// user. Best effort: the local session is already gone by the time this is
// called, so failures are returned for logging only.
func (v *Verifier) SignalLogout(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	status, _, err := v.post(ctx, logoutPath, "", map[string]string{"user_id": userID})
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("identity logout returned status %d: %w", status, ErrTransport)
	}
	return nil
}

// post sends a JSON POST to the identity API and returns the response
// status and body. The body is read here, inside the timeout, so the
// deadline covers the full exchange and cancellation cannot race a later
// decode. A non-empty bearer token is attached as the Authorization
// header. All transport-level failures are collapsed into ErrTransport.
func (v *Verifier) post(ctx context.Context, path, bearer string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", ErrTransport)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", ErrTransport)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if v.secret != nil {
		buf, err := v.secret.Open()
		if err != nil {
			return 0, nil, fmt.Errorf("opening gateway secret: %w", ErrTransport)
		}
		// The header value aliases the locked buffer, so it must stay
		// alive until the request has been sent.
		defer buf.Destroy()
		req.Header.Set(gatewayKeyHeader, buf.String())
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling identity API: %w", ErrTransport)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading identity API response: %w", ErrTransport)
	}
	return resp.StatusCode, respBody, nil
}

func identityFromPayload(user userPayload) Identity {
	return Identity{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Permission: RoleID(user.Permission),
	}
}
