package gate

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var redeemedBucket = []byte("redeemed_tickets")

const replayCleanupInterval = 5 * time.Minute

// BoltReplayGuard persists redeemed challenge tickets in a bbolt file so
// the single-use guarantee survives gateway restarts and is shared by all
// handlers of one replica. Values are the expiry time in Unix nanoseconds.
type BoltReplayGuard struct {
	db       *bolt.DB
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ ReplayGuard = (*BoltReplayGuard)(nil)

// NewBoltReplayGuardFromFile opens (creating if needed) a bbolt database at
// path and starts a background cleanup loop for expired entries.
func NewBoltReplayGuardFromFile(path string, options *bolt.Options) (*BoltReplayGuard, error) {
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening replay guard database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(redeemedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing replay guard bucket: %w", err)
	}
	g := &BoltReplayGuard{
		db:     db,
		stopCh: make(chan struct{}),
	}
	go g.cleanupLoop()
	return g, nil
}

func (g *BoltReplayGuard) Seen(token string) (bool, error) {
	digest := []byte(ticketDigest(token))
	var seen bool
	err := g.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(redeemedBucket).Get(digest)
		if raw == nil {
			return nil
		}
		seen = time.Now().UnixNano() < int64(binary.BigEndian.Uint64(raw))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reading replay guard: %w", err)
	}
	return seen, nil
}

func (g *BoltReplayGuard) MarkRedeemed(token string, ttl time.Duration) (bool, error) {
	digest := []byte(ticketDigest(token))
	first := false
	err := g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(redeemedBucket)
		if raw := b.Get(digest); raw != nil {
			if time.Now().UnixNano() < int64(binary.BigEndian.Uint64(raw)) {
				return nil
			}
		}
		var val [8]byte
		binary.BigEndian.PutUint64(val[:], uint64(time.Now().Add(ttl).UnixNano()))
		if err := b.Put(digest, val[:]); err != nil {
			return err
		}
		first = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("writing replay guard: %w", err)
	}
	return first, nil
}

// Close stops the cleanup loop and closes the database.
func (g *BoltReplayGuard) Close() error {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
	return g.db.Close()
}

func (g *BoltReplayGuard) cleanupLoop() {
	ticker := time.NewTicker(replayCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.removeExpired()
		}
	}
}

func (g *BoltReplayGuard) removeExpired() {
	now := time.Now().UnixNano()
	g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(redeemedBucket)
		c := b.Cursor()
		var expired [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if int64(binary.BigEndian.Uint64(v)) <= now {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
