// Package gate is the HTTP surface of the authentication gateway: the
// login/challenge/logout endpoints and the navigation middleware that
// enforces the route policy on every request.
package gate

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/linenworks/linengate/auth"
	"github.com/linenworks/linengate/policy"
	"github.com/linenworks/linengate/session"
)

// Gateway holds the dependencies needed by the handlers and middleware.
// Construct once at startup with New and share by reference; no field is
// mutated after construction.
type Gateway struct {
	verifier *auth.Verifier
	sessions *session.Store
	engine   *policy.Engine
	replay   ReplayGuard

	rateLimiter   *loginRateLimiter
	ipLimiter     *ipRateLimiter
	globalLimiter *globalRateLimiter

	audit   *auditLogger
	metrics *metricsCollector
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger for audit events. If not set, a
// default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.audit = newAuditLogger(logger)
	}
}

// WithReplayGuard sets the single-use ledger for redeemed challenge
// tickets. Defaults to an in-memory guard.
func WithReplayGuard(guard ReplayGuard) Option {
	return func(g *Gateway) {
		g.replay = guard
	}
}

// WithAlertFunc installs a callback for anomaly alerts (login failure or
// denial spikes).
func WithAlertFunc(fn AlertFunc) Option {
	return func(g *Gateway) {
		g.metrics = newMetricsCollector(fn)
	}
}

// New creates a Gateway.
func New(verifier *auth.Verifier, sessions *session.Store, engine *policy.Engine, opts ...Option) *Gateway {
	g := &Gateway{
		verifier:      verifier,
		sessions:      sessions,
		engine:        engine,
		rateLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.audit == nil {
		g.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if g.replay == nil {
		g.replay = NewMemoryReplayGuard()
	}
	if g.metrics == nil {
		g.metrics = newMetricsCollector(nil)
	}
	g.audit.metrics = g.metrics
	return g
}

// Router returns a chi.Router with the auth endpoints mounted. These are
// the api-auth-bypass routes: the Gate middleware never applies to them.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/auth/openapi.yaml",
		Path:    "api/auth/docs",
	}, nil))

	r.Post("/login", g.Login)
	r.Post("/2fa", g.RedeemChallenge)
	r.Post("/logout", g.Logout)
	r.Get("/session", g.CurrentSession)

	return r
}
