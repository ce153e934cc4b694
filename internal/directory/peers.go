package directory

import (
	"sync"

	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
)

// PeerRecord is one known peer node: its public key, the address used to
// dial it (or "unknown" if we only ever learned of it inbound), and an
// optional session. A peer with Session == nil is a "known-about" entry
// kept for re-dial and discovery deduplication.
type PeerRecord struct {
	PublicKey [relaykeys.PublicKeySize]byte
	Address   string
	Session   *session.Session
	// Source is a diagnostics-only tag ("seed", "pex", "manual",
	// "inbound"); it never affects routing or any invariant, only what
	// gets logged.
	Source string
}

// UnknownAddress is the sentinel used when a peer was learned about only
// via an inbound connection and we have no dial-able address for it.
const UnknownAddress = "unknown"

// Peers is the peer directory: at most one record per public key, at
// most one session attached, cross-indexed by session.
type Peers struct {
	mu        sync.Mutex
	byKey     map[[relaykeys.PublicKeySize]byte]*PeerRecord
	bySession map[*session.Session][relaykeys.PublicKeySize]byte
}

// NewPeers builds an empty peer directory.
func NewPeers() *Peers {
	return &Peers{
		byKey:     make(map[[relaykeys.PublicKeySize]byte]*PeerRecord),
		bySession: make(map[*session.Session][relaykeys.PublicKeySize]byte),
	}
}

// Upsert inserts a sessionless "known-about" record for pub if one isn't
// already present, or updates its address/source otherwise. It never
// touches an existing session. Used by peer discovery (§4.7) before any
// dial succeeds.
func (p *Peers) Upsert(pub [relaykeys.PublicKeySize]byte, addr, source string) *PeerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.byKey[pub]; ok {
		if addr != "" && addr != UnknownAddress {
			rec.Address = addr
		}
		if source != "" {
			rec.Source = source
		}
		return rec
	}
	if addr == "" {
		addr = UnknownAddress
	}
	rec := &PeerRecord{PublicKey: pub, Address: addr, Source: source}
	p.byKey[pub] = rec
	return rec
}

// Attach binds sess to the peer record for pub, creating the record if
// needed and preserving any address already known for it. If a different
// session was already attached, it is closed first, satisfying the
// "old session closed before replacement" invariant.
func (p *Peers) Attach(pub [relaykeys.PublicKeySize]byte, sess *session.Session) *PeerRecord {
	p.mu.Lock()
	rec, ok := p.byKey[pub]
	if !ok {
		rec = &PeerRecord{PublicKey: pub, Address: UnknownAddress}
		p.byKey[pub] = rec
	}
	old := rec.Session
	if old != nil && old != sess {
		delete(p.bySession, old)
		p.mu.Unlock()
		_ = old.Close()
		p.mu.Lock()
	}
	rec.Session = sess
	p.bySession[sess] = pub
	p.mu.Unlock()
	return rec
}

// Detach removes sess from whichever peer record holds it, if any,
// leaving the record itself in place (sessionless) so the address stays
// dial-able for a future reconnect.
func (p *Peers) Detach(sess *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.bySession[sess]
	if !ok {
		return
	}
	delete(p.bySession, sess)
	if rec, ok := p.byKey[pub]; ok && rec.Session == sess {
		rec.Session = nil
	}
}

// Lookup returns the record for pub, if present.
func (p *Peers) Lookup(pub [relaykeys.PublicKeySize]byte) (*PeerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byKey[pub]
	return rec, ok
}

// LookupSession returns the record attached to sess, if present.
func (p *Peers) LookupSession(sess *session.Session) (*PeerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.bySession[sess]
	if !ok {
		return nil, false
	}
	return p.byKey[pub], true
}

// Has reports whether pub has any peer record (with or without session).
func (p *Peers) Has(pub [relaykeys.PublicKeySize]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byKey[pub]
	return ok
}

// HasAddress reports whether any existing peer record already carries
// addr, used by ADD_SERVER handling to dedupe dial targets.
func (p *Peers) HasAddress(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.byKey {
		if rec.Address == addr {
			return true
		}
	}
	return false
}

// All returns a snapshot of every current record.
func (p *Peers) All() []*PeerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PeerRecord, 0, len(p.byKey))
	for _, rec := range p.byKey {
		out = append(out, rec)
	}
	return out
}

// OpenSessions returns every peer record that currently has an open
// session attached, used to broadcast QUERY frames (§4.6).
func (p *Peers) OpenSessions() []*PeerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PeerRecord, 0, len(p.byKey))
	for _, rec := range p.byKey {
		if rec.Session != nil && rec.Session.Open() {
			out = append(out, rec)
		}
	}
	return out
}
