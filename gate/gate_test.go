package gate_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linenworks/linengate/auth"
	"github.com/linenworks/linengate/gate"
	"github.com/linenworks/linengate/policy"
	"github.com/linenworks/linengate/session"
)

// fakeIdentityAPI emulates the external identity service: one account with
// a password, optionally requiring a one-time code after the credential
// step.
type fakeIdentityAPI struct {
	mu sync.Mutex

	email      string
	password   string
	needsTwoFA bool
	code       string
	token      string
	user       map[string]any

	redeemCalls int
}

func (f *fakeIdentityAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != f.email || body["password"] != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.needsTwoFA {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{
				"twofa_token": f.token,
				"user_id":     f.user["id"].(string),
			})
			return
		}
		json.NewEncoder(w).Encode(f.user)
	})
	mux.HandleFunc("POST /auth/2fa/verify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.redeemCalls++
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if r.Header.Get("Authorization") != "Bearer "+f.token ||
			body["user_id"] != f.user["id"].(string) || body["code"] != f.code {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(f.user)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type testEnv struct {
	srv      *httptest.Server
	identity *fakeIdentityAPI
}

func setupEnv(t *testing.T, opts ...gate.Option) *testEnv {
	t.Helper()

	identity := &fakeIdentityAPI{
		email:    "ops@linenworks.example",
		password: "hunter22",
		code:     "123456",
		token:    "tfa-token-1",
		user: map[string]any{
			"id": "u-1", "email": "ops@linenworks.example",
			"name": "Ops Lead", "permission": 2,
		},
	}
	idSrv := httptest.NewServer(identity.handler())
	t.Cleanup(idSrv.Close)

	engine, err := policy.NewEngine(policy.DefaultConfig())
	require.NoError(t, err)

	sessions, err := session.NewStore([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	verifier := auth.NewVerifier(idSrv.URL)
	g := gate.New(verifier, sessions, engine, opts...)

	r := chi.NewRouter()
	r.Mount("/api/auth", g.Router())
	r.With(g.Gate).Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downstream:" + r.URL.Path))
	}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, identity: identity}
}

// newClient returns a cookie-keeping client that does not follow
// redirects, so tests can observe the gate's decisions directly.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, header http.Header) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, env *testEnv, client *http.Client) gate.LoginResponse {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{
		"email": "ops@linenworks.example", "password": "hunter22",
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gate.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestLoginIssuesSession(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	out := login(t, env, client)
	assert.Equal(t, "u-1", out.User.ID)
	assert.Equal(t, auth.RoleManager, out.User.Permission)
	assert.Equal(t, "/dashboard", out.Redirect)

	// The session endpoint reflects the identity.
	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/api/auth/session", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess gate.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.True(t, sess.Authenticated)
	assert.Equal(t, "u-1", sess.User.ID)
}

func TestLoginRejected(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{
		"email": "ops@linenworks.example", "password": "wrong",
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var out gate.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	// Generic message: never says whether the email exists.
	assert.Equal(t, "invalid email or password", out.Error)
	assert.Empty(t, resp.Cookies())
}

func TestTwoFactorFlow(t *testing.T) {
	env := setupEnv(t)
	env.identity.needsTwoFA = true
	client := newClient(t)

	// Step 1: credentials produce a challenge, not a session.
	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{
		"email": "ops@linenworks.example", "password": "hunter22",
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ch gate.ChallengeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
	assert.Equal(t, "tfa-token-1", ch.TwoFAToken)
	assert.Equal(t, "u-1", ch.UserID)
	assert.Equal(t, "/2fa?token=tfa-token-1", ch.Redirect)
	assert.Empty(t, resp.Cookies(), "no session before the second factor")

	// Step 2: wrong code is rejected.
	header := http.Header{"Authorization": []string{"Bearer " + ch.TwoFAToken}}
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", map[string]string{
		"user_id": ch.UserID, "code": "000000",
	}, header)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 2 again with the right code yields a session.
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", map[string]string{
		"user_id": ch.UserID, "code": "123456",
	}, header)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gate.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "u-1", out.User.ID)
}

func TestTwoFactorReplayRejected(t *testing.T) {
	env := setupEnv(t)
	env.identity.needsTwoFA = true
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{
		"email": "ops@linenworks.example", "password": "hunter22",
	}, nil)
	var ch gate.ChallengeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
	resp.Body.Close()

	header := http.Header{"Authorization": []string{"Bearer " + ch.TwoFAToken}}
	body := map[string]string{"user_id": ch.UserID, "code": "123456"}

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", body, header)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := env.identity.redeemCalls

	// The exact same redeem call again must not produce another session,
	// and the gateway must not even consult the identity API.
	resp = doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/auth/2fa", body, header)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
	assert.Equal(t, calls, env.identity.redeemCalls, "replay must be stopped before the upstream call")
}

// brokenReplayGuard simulates a replay ledger whose backing store has
// failed.
type brokenReplayGuard struct {
	seenErr error
	markErr error
}

func (g *brokenReplayGuard) Seen(string) (bool, error) { return false, g.seenErr }
func (g *brokenReplayGuard) MarkRedeemed(string, time.Duration) (bool, error) {
	return false, g.markErr
}
func (g *brokenReplayGuard) Close() error { return nil }

func TestTwoFactorLedgerFailureFailsClosed(t *testing.T) {
	// Without a working ledger the single-use guarantee cannot be upheld,
	// so a valid ticket+code must still not produce a session.
	challenge := func(t *testing.T, env *testEnv, client *http.Client) gate.ChallengeResponse {
		t.Helper()
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{
			"email": "ops@linenworks.example", "password": "hunter22",
		}, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var ch gate.ChallengeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
		return ch
	}

	t.Run("ledger unreadable", func(t *testing.T) {
		guard := &brokenReplayGuard{seenErr: errors.New("ledger read failed")}
		env := setupEnv(t, gate.WithReplayGuard(guard))
		env.identity.needsTwoFA = true
		client := newClient(t)
		ch := challenge(t, env, client)

		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", map[string]string{
			"user_id": ch.UserID, "code": "123456",
		}, http.Header{"Authorization": []string{"Bearer " + ch.TwoFAToken}})
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, resp.Cookies())
		assert.Zero(t, env.identity.redeemCalls, "an unreadable ledger must stop the redemption before the upstream call")
	})

	t.Run("ledger unwritable", func(t *testing.T) {
		guard := &brokenReplayGuard{markErr: errors.New("ledger write failed")}
		env := setupEnv(t, gate.WithReplayGuard(guard))
		env.identity.needsTwoFA = true
		client := newClient(t)
		ch := challenge(t, env, client)

		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", map[string]string{
			"user_id": ch.UserID, "code": "123456",
		}, http.Header{"Authorization": []string{"Bearer " + ch.TwoFAToken}})
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, resp.Cookies())
	})
}

func TestTwoFactorMissingToken(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/2fa", map[string]string{
		"user_id": "u-1", "code": "123456",
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)
	login(t, env, client)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/logout", nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session is gone.
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/auth/session", nil, nil)
	defer resp.Body.Close()
	var sess gate.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.False(t, sess.Authenticated)
}

func TestGateRedirectsUnauthenticated(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/dashboard", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestGateEnforcesRolePrefixes(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)
	login(t, env, client) // manager, role 2

	// Allowed prefix.
	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/management/saleoffice/42", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Absent from the manager's prefix list.
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/admin", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))
}

func TestGateAuthenticatedLoginBounces(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)
	login(t, env, client)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/login", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestGateChallengePageNeedsToken(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	// Without a token the challenge page bounces to login.
	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/2fa", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// With one it is served.
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/2fa?token=tfa-token-1", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateBypassWithCorruptCookie(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	// A garbage session cookie must not keep the auth endpoints from
	// working.
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+"/api/auth/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "linengate_session", Value: "corrupt"})
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess gate.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.False(t, sess.Authenticated)
}

func TestLoginRateLimited(t *testing.T) {
	env := setupEnv(t)
	client := newClient(t)

	body := map[string]string{"email": "ops@linenworks.example", "password": "wrong"}
	var last *http.Response
	for i := 0; i < 6; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/auth/login", body, nil)
	}
	defer last.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
}
