package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// challengeTicketTTL is how long a redeemed ticket is remembered. It only
// needs to outlive the upstream ticket expiry, not the session.
const challengeTicketTTL = 30 * time.Minute

// ReplayGuard is a single-use ledger of redeemed challenge tickets. The
// identity API enforces single use on its side too; the guard keeps a
// replayed ticket+code pair from ever producing a second session at this
// gateway, even if the upstream misbehaves.
//
// Tokens are stored as SHA-256 hashes, never raw.
type ReplayGuard interface {
	// Seen reports whether the token has already been redeemed.
	Seen(token string) (bool, error)
	// MarkRedeemed records the token. Returns false if it was already
	// present, so concurrent redemptions of the same ticket yield exactly
	// one winner.
	MarkRedeemed(token string, ttl time.Duration) (bool, error)
	// Close releases any underlying resources.
	Close() error
}

func ticketDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryReplayGuard is a thread-safe in-memory ReplayGuard. State is lost
// on restart, which is acceptable because the upstream ticket expiry is
// shorter than any realistic restart window.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	data map[string]time.Time // digest -> expiry
}

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

// NewMemoryReplayGuard creates an in-memory replay guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		data: make(map[string]time.Time),
	}
}

func (g *MemoryReplayGuard) Seen(token string) (bool, error) {
	digest := ticketDigest(token)
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.data[digest]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(g.data, digest)
		return false, nil
	}
	return true, nil
}

func (g *MemoryReplayGuard) MarkRedeemed(token string, ttl time.Duration) (bool, error) {
	digest := ticketDigest(token)
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.data[digest]; ok && now.Before(expiry) {
		return false, nil
	}
	g.data[digest] = now.Add(ttl)

	// Opportunistic sweep of expired entries.
	for d, exp := range g.data {
		if now.After(exp) {
			delete(g.data, d)
		}
	}
	return true, nil
}

func (g *MemoryReplayGuard) Close() error { return nil }
