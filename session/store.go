package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/linenworks/linengate/auth"
	"github.com/linenworks/linengate/internal/util"
)

const (
	cookieName = "linengate_session"

	// defaultMaxAge matches the admin app's working-day expectations: a
	// session survives one shift plus overnight, not a full week.
	defaultMaxAge = 24 * time.Hour

	hashKeyInfo  = "linengate:session:hash:v1"
	blockKeyInfo = "linengate:session:block:v1"
)

// Store issues and reads session cookies. The cookie payload is encrypted
// (AES) and authenticated (HMAC) by securecookie; both keys are derived
// from one 32-byte master secret via HKDF so only a single secret needs
// distributing across gateway replicas.
//
// A Store is immutable after construction and safe for concurrent use.
// Each Read performs exactly one decode of the incoming cookie, so one
// request observes one consistent session value for its whole evaluation.
type Store struct {
	codec  *securecookie.SecureCookie
	maxAge time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxAge overrides the session lifetime.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *Store) { s.maxAge = d }
}

// NewStore derives the cookie keys from masterSecret (at least 32 bytes).
// The caller may wipe masterSecret after NewStore returns; the derived
// keys are held internally by the codec.
func NewStore(masterSecret []byte, opts ...StoreOption) (*Store, error) {
	if len(masterSecret) < 32 {
		return nil, fmt.Errorf("session master secret must be at least 32 bytes, got %d", len(masterSecret))
	}
	hashKey, err := util.HKDF(masterSecret, nil, []byte(hashKeyInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving session hash key: %w", err)
	}
	blockKey, err := util.HKDF(masterSecret, nil, []byte(blockKeyInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving session block key: %w", err)
	}

	s := &Store{
		codec:  securecookie.New(hashKey, blockKey),
		maxAge: defaultMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec.MaxAge(int(s.maxAge / time.Second))
	return s, nil
}

// Issue writes a fresh session cookie for the given identity and returns
// the session it encoded. This is the only path that populates the
// permission field, and it sources it directly from the identity.
func (s *Store) Issue(w http.ResponseWriter, r *http.Request, identity auth.Identity) (Session, error) {
	sess := Session{
		UserID:     identity.ID,
		Email:      identity.Email,
		Name:       identity.Name,
		Permission: identity.Permission,
		IssuedAt:   time.Now().UTC(),
	}
	encoded, err := s.codec.Encode(cookieName, sess)
	if err != nil {
		return Session{}, fmt.Errorf("encoding session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		// Both lifetime attributes: MaxAge is relative, so it holds even
		// when the client clock is skewed; Expires covers old clients.
		Expires: time.Now().Add(s.maxAge),
		MaxAge:  int(s.maxAge / time.Second),
	})
	return sess, nil
}

// Read decodes the session cookie. The second return is false when the
// cookie is absent, expired, or fails authentication — a tampered cookie
// is indistinguishable from no cookie at all.
func (s *Store) Read(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, false
	}
	var sess Session
	if err := s.codec.Decode(cookieName, cookie.Value, &sess); err != nil {
		return Session{}, false
	}
	// The codec's own timestamp check rounds to seconds; enforce the
	// configured lifetime against IssuedAt as well.
	if time.Since(sess.IssuedAt) > s.maxAge {
		return Session{}, false
	}
	return sess, true
}

// Clear discards the session cookie.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
