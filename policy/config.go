package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of the route policy, loaded once at process
// start. Changing it requires a restart; there is no runtime reload API.
type Config struct {
	// DefaultLanding is where authenticated clients land after login or
	// when they hit an auth-only page.
	DefaultLanding string `yaml:"default_landing"`
	// PublicRoutes are reachable with or without a session. Exact match.
	PublicRoutes []string `yaml:"public_routes"`
	// AuthOnlyRoutes are only for unauthenticated clients (the login
	// form). Exact match.
	AuthOnlyRoutes []string `yaml:"auth_only_routes"`
	// APIAuthPrefix marks the gateway's own auth endpoints, which bypass
	// the gate entirely.
	APIAuthPrefix string `yaml:"api_auth_prefix"`
	// Roles maps numeric role ids to allowed path prefixes.
	Roles map[int][]string `yaml:"roles"`
}

func (c *Config) applyDefaults() {
	if c.DefaultLanding == "" {
		c.DefaultLanding = "/dashboard"
	}
	if c.APIAuthPrefix == "" {
		c.APIAuthPrefix = "/api/auth"
	}
	if c.PublicRoutes == nil {
		c.PublicRoutes = []string{ChallengePath, UnauthorizedPath, "/health"}
	}
	if c.AuthOnlyRoutes == nil {
		c.AuthOnlyRoutes = []string{LoginPath}
	}
}

// LoadFile reads and compiles a policy config from a YAML file. Any error
// here is fatal to the caller: the gate must not serve protected routes
// with a missing or invalid table.
func LoadFile(path string) (*Engine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing route policy file %s: %w", path, err)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("compiling route policy from %s: %w", path, err)
	}
	return engine, nil
}

// DefaultConfig returns the built-in role table used when no policy file is
// supplied. The per-role lists are independent literals: higher roles
// repeat the lower roles' prefixes rather than inheriting them, which keeps
// the table auditable at the cost of some duplication.
func DefaultConfig() Config {
	return Config{
		Roles: map[int][]string{
			1: {"/dashboard", "/admin", "/management", "/operations", "/reports", "/settings"},
			2: {"/dashboard", "/management", "/operations", "/reports"},
			3: {"/dashboard", "/operations", "/reports"},
			4: {"/dashboard", "/operations"},
			5: {"/dashboard"},
		},
	}
}
