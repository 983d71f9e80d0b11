// Package policy implements the route access decision evaluated on every
// navigation: a static role -> allowed-path-prefixes table plus the
// public/auth-only route classification, compiled once at startup and
// immutable afterwards. The engine itself is a pure function of its inputs
// and is safe for unsynchronized concurrent use.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linenworks/linengate/auth"
)

// Redirect targets. These are part of the contract with the admin frontend
// and must match literally.
const (
	LoginPath        = "/login"
	ChallengePath    = "/2fa"
	UnauthorizedPath = "/unauthorized"

	// ChallengeTokenParam is the query parameter that must accompany a
	// request for ChallengePath.
	ChallengeTokenParam = "token"
)

// Classification buckets an incoming path. Exactly one applies, decided in
// priority order: api-auth-bypass, public, auth-only, protected.
type Classification int

const (
	ClassAPIAuthBypass Classification = iota
	ClassPublic
	ClassAuthOnly
	ClassProtected
)

func (c Classification) String() string {
	switch c {
	case ClassAPIAuthBypass:
		return "api-auth-bypass"
	case ClassPublic:
		return "public"
	case ClassAuthOnly:
		return "auth-only"
	default:
		return "protected"
	}
}

// Action is what the gate should do with the request.
type Action int

const (
	ActionContinue Action = iota
	ActionRedirect
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Action   Action
	Location string // redirect target, empty for Continue
}

// Continue lets the request through unchanged.
var Continue = Decision{Action: ActionContinue}

// RedirectTo sends the client to the given path.
func RedirectTo(location string) Decision {
	return Decision{Action: ActionRedirect, Location: location}
}

// Input carries everything one evaluation depends on. ChallengeToken is the
// value of the "token" query parameter, empty when absent.
type Input struct {
	Path           string
	Authenticated  bool
	Role           auth.RoleID
	HasRole        bool
	ChallengeToken string
}

// Engine holds the compiled route policy. Construct once with NewEngine and
// share by reference; it is never mutated after construction.
type Engine struct {
	table          map[auth.RoleID][]string
	public         map[string]struct{}
	authOnly       map[string]struct{}
	apiAuthPrefix  string
	defaultLanding string
}

// NewEngine validates and compiles a Config. Every RoleID in the
// enumeration must have a table entry; a missing or empty table is an
// error so the gate fails closed rather than serving with partial policy.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	if len(cfg.Roles) == 0 {
		return nil, fmt.Errorf("route policy: no role entries configured")
	}
	table := make(map[auth.RoleID][]string, len(cfg.Roles))
	for id, prefixes := range cfg.Roles {
		role := auth.RoleID(id)
		if !role.Valid() {
			return nil, fmt.Errorf("route policy: unknown role id %d", id)
		}
		if len(prefixes) == 0 {
			return nil, fmt.Errorf("route policy: role %s has no allowed prefixes", role)
		}
		compiled := make([]string, len(prefixes))
		for i, p := range prefixes {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("route policy: role %s prefix %q must start with /", role, p)
			}
			compiled[i] = p
		}
		table[role] = compiled
	}
	for _, role := range auth.Roles() {
		if _, ok := table[role]; !ok {
			return nil, fmt.Errorf("route policy: role %s has no table entry", role)
		}
	}

	e := &Engine{
		table:          table,
		public:         pathSet(cfg.PublicRoutes),
		authOnly:       pathSet(cfg.AuthOnlyRoutes),
		apiAuthPrefix:  cfg.APIAuthPrefix,
		defaultLanding: cfg.DefaultLanding,
	}
	return e, nil
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// DefaultLanding is where an already-authenticated client is sent when it
// requests an auth-only page such as the login form.
func (e *Engine) DefaultLanding() string {
	return e.defaultLanding
}

// AllowedPrefixes returns a copy of the prefix list for a role, for
// diagnostics. The second return is false for roles without an entry.
func (e *Engine) AllowedPrefixes(role auth.RoleID) ([]string, bool) {
	prefixes, ok := e.table[role]
	if !ok {
		return nil, false
	}
	out := make([]string, len(prefixes))
	copy(out, prefixes)
	return out, true
}

// Roles returns the role ids present in the table, sorted.
func (e *Engine) Roles() []auth.RoleID {
	roles := make([]auth.RoleID, 0, len(e.table))
	for r := range e.table {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Classify buckets a path. The API auth prefix test runs first so the
// login/challenge/logout endpoints stay reachable no matter what the
// public/auth-only lists contain.
func (e *Engine) Classify(path string) Classification {
	if strings.HasPrefix(path, e.apiAuthPrefix) {
		return ClassAPIAuthBypass
	}
	if _, ok := e.public[path]; ok {
		return ClassPublic
	}
	if _, ok := e.authOnly[path]; ok {
		return ClassAuthOnly
	}
	return ClassProtected
}

// Decide evaluates the decision table, first match wins:
//
//  1. api-auth-bypass paths always continue.
//  2. the second-factor page without a challenge token bounces to login.
//  3. auth-only page while authenticated redirects to the default landing.
//  4. auth-only page while unauthenticated continues.
//  5. unauthenticated access to anything non-public redirects to login.
//  6. public paths continue.
//  7. a missing or unknown role is unauthorized, never unrestricted.
//  8. otherwise the role's prefix list decides.
//
// Prefix matching is case-sensitive literal prefix; the table is expected
// to hold non-conflicting entries per role, so first match suffices.
func (e *Engine) Decide(in Input) Decision {
	class := e.Classify(in.Path)

	if class == ClassAPIAuthBypass {
		return Continue
	}
	if in.Path == ChallengePath && in.ChallengeToken == "" {
		return RedirectTo(LoginPath)
	}
	if class == ClassAuthOnly {
		if in.Authenticated {
			return RedirectTo(e.defaultLanding)
		}
		return Continue
	}
	if !in.Authenticated && class != ClassPublic {
		return RedirectTo(LoginPath)
	}
	if class == ClassPublic {
		return Continue
	}
	if !in.HasRole {
		return RedirectTo(UnauthorizedPath)
	}
	prefixes, ok := e.table[in.Role]
	if !ok {
		return RedirectTo(UnauthorizedPath)
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(in.Path, prefix) {
			return Continue
		}
	}
	return RedirectTo(UnauthorizedPath)
}
