package gate

import (
	"log/slog"
	"net/http"

	"github.com/linenworks/linengate/policy"
)

// Gate is the navigation chokepoint, applied to every incoming request
// outside the auth endpoints. It reads the session once, classifies the
// path, asks the policy engine for a decision, and enforces it.
//
// The api-auth-bypass check runs before the session store is touched, so
// login, challenge, and logout stay reachable with a corrupt or expired
// session cookie.
func (g *Gateway) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.engine.Classify(r.URL.Path) == policy.ClassAPIAuthBypass {
			next.ServeHTTP(w, r)
			return
		}

		// One read per request: the decision below observes a single
		// consistent session value even if a parallel login finishes
		// mid-flight.
		sess, authenticated := g.sessions.Read(r)

		decision := g.engine.Decide(policy.Input{
			Path:           r.URL.Path,
			Authenticated:  authenticated,
			Role:           sess.Permission,
			HasRole:        authenticated && sess.HasRecognizedRole(),
			ChallengeToken: r.URL.Query().Get(policy.ChallengeTokenParam),
		})

		if decision.Action == policy.ActionRedirect {
			if decision.Location == policy.UnauthorizedPath {
				g.audit.logFailure(AuditRouteDenied, r, "role lacks route access",
					slog.String("path", r.URL.Path),
					slog.String("user_id", sess.UserID),
					slog.String("permission", sess.Permission.String()))
			}
			http.Redirect(w, r, decision.Location, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
