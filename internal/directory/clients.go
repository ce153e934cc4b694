// Package directory holds the two in-memory directories the relay core
// mutates: local clients and known peers. Both key on the raw 32-byte
// public key rather than its hex string (hex is produced only at
// log/wire boundaries), and both are guarded by one mutex each: lock,
// touch the maps, unlock — never hold the lock across I/O.
package directory

import (
	"sync"
	"time"

	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
)

// ClientRecord is one authenticated local client: its public key, the
// session it authenticated on, and when that happened.
type ClientRecord struct {
	PublicKey     [relaykeys.PublicKeySize]byte
	Session       *session.Session
	AuthenticatedAt time.Time
}

// Clients is the local-client directory: at most one record per public
// key, cross-indexed by session so a closed session can be removed
// without knowing its key.
type Clients struct {
	mu        sync.Mutex
	byKey     map[[relaykeys.PublicKeySize]byte]*ClientRecord
	bySession map[*session.Session][relaykeys.PublicKeySize]byte
}

// NewClients builds an empty local-client directory.
func NewClients() *Clients {
	return &Clients{
		byKey:     make(map[[relaykeys.PublicKeySize]byte]*ClientRecord),
		bySession: make(map[*session.Session][relaykeys.PublicKeySize]byte),
	}
}

// Add inserts or replaces the record for pub. If a prior session was
// attached to this key and differs from sess, it is closed before the
// index is updated, satisfying the "at most one record per key" and
// "old session force-closed and replaced atomically" invariants.
func (c *Clients) Add(pub [relaykeys.PublicKeySize]byte, sess *session.Session) *ClientRecord {
	c.mu.Lock()
	if old, ok := c.byKey[pub]; ok {
		delete(c.bySession, old.Session)
		if old.Session != nil && old.Session != sess {
			c.mu.Unlock()
			_ = old.Session.Close()
			c.mu.Lock()
		}
	}
	rec := &ClientRecord{PublicKey: pub, Session: sess, AuthenticatedAt: time.Now()}
	c.byKey[pub] = rec
	c.bySession[sess] = pub
	c.mu.Unlock()
	return rec
}

// Remove deletes the record for pub, if any, along with its reverse index
// entry, then closes its session so the old record's session is never
// left open once the key is gone from this directory.
func (c *Clients) Remove(pub [relaykeys.PublicKeySize]byte) {
	c.mu.Lock()
	rec, ok := c.byKey[pub]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.bySession, rec.Session)
	delete(c.byKey, pub)
	c.mu.Unlock()
	if rec.Session != nil {
		_ = rec.Session.Close()
	}
}

// RemoveSession removes whichever record is attached to sess, if any, and
// reports the key that was removed.
func (c *Clients) RemoveSession(sess *session.Session) ([relaykeys.PublicKeySize]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.bySession[sess]
	if !ok {
		return pub, false
	}
	delete(c.bySession, sess)
	delete(c.byKey, pub)
	return pub, true
}

// Lookup returns the record for pub, if present.
func (c *Clients) Lookup(pub [relaykeys.PublicKeySize]byte) (*ClientRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byKey[pub]
	return rec, ok
}

// LookupSession returns the record attached to sess, if present.
func (c *Clients) LookupSession(sess *session.Session) (*ClientRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.bySession[sess]
	if !ok {
		return nil, false
	}
	return c.byKey[pub], true
}

// Has reports whether pub has a local-client record.
func (c *Clients) Has(pub [relaykeys.PublicKeySize]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byKey[pub]
	return ok
}

// All returns a snapshot of every current record.
func (c *Clients) All() []*ClientRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ClientRecord, 0, len(c.byKey))
	for _, rec := range c.byKey {
		out = append(out, rec)
	}
	return out
}
