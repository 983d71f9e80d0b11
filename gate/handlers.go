package gate

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/linenworks/linengate/auth"
	"github.com/linenworks/linengate/policy"
)

// Login handles POST /api/auth/login.
func (g *Gateway) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	accountID := accountKey(email)
	clientIP := extractClientIP(r)

	// Check rate limits before the upstream call: global → IP → per-account.
	if blocked, retryAfter := g.globalLimiter.check(); blocked {
		g.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := g.ipLimiter.check(clientIP); blocked {
		g.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := g.rateLimiter.check(accountID); blocked {
		g.audit.logFailure(AuditLoginRateLimited, r, "account rate limited",
			slog.String("account_id", accountID))
		writeRateLimited(w, retryAfter)
		return
	}

	outcome := g.verifier.Verify(r.Context(), email, req.Password)
	switch {
	case outcome.Rejected():
		// Only credential failures feed the lockout counters; an identity
		// API outage must not lock accounts out.
		if errors.Is(outcome.Err, auth.ErrInvalidCredentials) {
			g.globalLimiter.recordFailure()
			g.ipLimiter.recordFailure(clientIP)
			g.rateLimiter.recordFailure(accountID)
		}
		g.audit.logFailure(AuditLoginFailure, r, outcome.Err.Error(),
			slog.String("account_id", accountID))
		writeOutcomeError(w, outcome.Err)
		return

	case outcome.ChallengeRequired():
		ticket := *outcome.Ticket
		g.audit.logEvent(AuditChallengeIssued, r, ticket.UserID)
		writeJSON(w, http.StatusAccepted, ChallengeResponse{
			TwoFAToken: ticket.ChallengeToken,
			UserID:     ticket.UserID,
			Redirect:   challengeRedirect(ticket),
		})
		return
	}

	identity := *outcome.Identity
	if _, err := g.sessions.Issue(w, r, identity); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to establish session")
		return
	}

	g.rateLimiter.recordSuccess(accountID)
	g.ipLimiter.recordSuccess(clientIP)

	g.audit.logEvent(AuditLoginSuccess, r, identity.ID,
		slog.String("permission", identity.Permission.String()))
	writeJSON(w, http.StatusOK, LoginResponse{
		User:     userInfo(identity),
		Redirect: g.engine.DefaultLanding(),
	})
}

// RedeemChallenge handles POST /api/auth/2fa. The challenge token arrives
// as a bearer credential; user ID and one-time code in the body. A ticket
// that has already produced a session is rejected without contacting the
// identity API.
func (g *Gateway) RedeemChallenge(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing challenge token")
		return
	}
	req, ok := decodeJSON[RedeemRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "user_id and code are required")
		return
	}
	ticket := auth.ChallengeTicket{ChallengeToken: token, UserID: req.UserID}

	// A guard failure fails closed: without the ledger the single-use
	// property cannot be upheld, so no session is issued.
	seen, err := g.replay.Seen(token)
	if err != nil {
		g.audit.logFailure(AuditChallengeFailure, r, "replay ledger unavailable",
			slog.String("user_id", req.UserID), slog.String("error", err.Error()))
		writeOutcomeError(w, auth.ErrChallengeInvalid)
		return
	}
	if seen {
		g.audit.logFailure(AuditChallengeReplayed, r, "ticket already redeemed",
			slog.String("user_id", req.UserID))
		writeOutcomeError(w, auth.ErrChallengeInvalid)
		return
	}

	outcome := g.verifier.Redeem(r.Context(), ticket, req.Code)
	if outcome.Rejected() {
		g.audit.logFailure(AuditChallengeFailure, r, outcome.Err.Error(),
			slog.String("user_id", req.UserID))
		writeOutcomeError(w, outcome.Err)
		return
	}

	// Record the redemption before issuing the session; if two requests
	// race on the same ticket, only the first wins. An unrecordable
	// redemption must not become a session either.
	first, err := g.replay.MarkRedeemed(token, challengeTicketTTL)
	if err != nil {
		g.audit.logFailure(AuditChallengeFailure, r, "replay ledger unavailable",
			slog.String("user_id", req.UserID), slog.String("error", err.Error()))
		writeOutcomeError(w, auth.ErrChallengeInvalid)
		return
	}
	if !first {
		g.audit.logFailure(AuditChallengeReplayed, r, "concurrent redemption lost",
			slog.String("user_id", req.UserID))
		writeOutcomeError(w, auth.ErrChallengeInvalid)
		return
	}

	identity := *outcome.Identity
	if _, err := g.sessions.Issue(w, r, identity); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to establish session")
		return
	}

	g.audit.logEvent(AuditChallengeRedeemed, r, identity.ID,
		slog.String("permission", identity.Permission.String()))
	writeJSON(w, http.StatusOK, LoginResponse{
		User:     userInfo(identity),
		Redirect: g.engine.DefaultLanding(),
	})
}

// Logout handles POST /api/auth/logout. The local session is discarded
// unconditionally; the upstream invalidation is best effort.
func (g *Gateway) Logout(w http.ResponseWriter, r *http.Request) {
	var userID string
	if sess, ok := g.sessions.Read(r); ok {
		userID = sess.UserID
	}
	g.sessions.Clear(w, r)

	if err := g.verifier.SignalLogout(r.Context(), userID); err != nil {
		g.audit.logFailure(AuditLogout, r, "upstream invalidation failed",
			slog.String("user_id", userID))
	} else {
		g.audit.logEvent(AuditLogout, r, userID)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// CurrentSession handles GET /api/auth/session. UI components use it to
// read the role and profile of the signed-in user.
func (g *Gateway) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.sessions.Read(r)
	if !ok {
		writeJSON(w, http.StatusOK, SessionResponse{Authenticated: false})
		return
	}
	info := userInfo(sess.Identity())
	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: true,
		User:          &info,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func challengeRedirect(ticket auth.ChallengeTicket) string {
	values := url.Values{}
	values.Set(policy.ChallengeTokenParam, ticket.ChallengeToken)
	return policy.ChallengePath + "?" + values.Encode()
}
