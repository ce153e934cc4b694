// Package location implements the pending-query table: at most one
// parked DATA frame per addressee while a federated QUERY is in flight,
// cleaned up on a first-wins QUERY_RESPONSE or a 5-second deadline, with
// one shot timer per table entry.
package location

import (
	"sync"
	"time"

	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
	"relaynet/internal/wire"
)

// DefaultDeadline is the 5-second wall-clock window a pending query is
// held open before it silently expires.
const DefaultDeadline = 5 * time.Second

// Logger is the minimal logging contract the table needs.
type Logger interface {
	Debugf(format string, args ...any)
}

type entry struct {
	frame     *wire.Frame
	senderRef string
	timer     *time.Timer
}

// Table holds parked DATA frames awaiting a federated lookup.
type Table struct {
	deadline time.Duration

	// BroadcastQuery sends a QUERY_CLIENT NODE_INFO frame for addr to
	// every currently open peer session. Injected rather than held as a
	// back-pointer to the gossip service, to avoid a cyclic dependency.
	BroadcastQuery func(addr [relaykeys.PublicKeySize]byte)

	// ResolvePeerSession looks up the open session for a peer's public
	// key, used to forward the parked frame once its owner is known.
	// Injected for the same reason.
	ResolvePeerSession func(pub [relaykeys.PublicKeySize]byte) (*session.Session, bool)

	// OnExpire, if set, is called whenever a pending entry is dropped by
	// its deadline rather than a response. For metrics only.
	OnExpire func()

	log Logger

	mu      sync.Mutex
	entries map[[relaykeys.PublicKeySize]byte]*entry
}

// New builds an empty pending-query table. deadline<=0 uses
// DefaultDeadline.
func New(deadline time.Duration, log Logger) *Table {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Table{
		deadline: deadline,
		log:      log,
		entries:  make(map[[relaykeys.PublicKeySize]byte]*entry),
	}
}

// ForwardRemote parks frame for addr and broadcasts a QUERY. If an entry
// for addr already exists, the new frame is dropped silently — at most
// one outstanding query per addressee. It reports true if the frame was
// queued, false if it was dropped as a duplicate.
func (t *Table) ForwardRemote(addr [relaykeys.PublicKeySize]byte, frame *wire.Frame, senderRef string) bool {
	t.mu.Lock()
	if _, exists := t.entries[addr]; exists {
		t.mu.Unlock()
		t.debugf("location: dropping duplicate query for %s", relaykeys.Hex(addr))
		return false
	}
	e := &entry{frame: frame.Clone(), senderRef: senderRef}
	e.timer = time.AfterFunc(t.deadline, func() { t.expire(addr) })
	t.entries[addr] = e
	t.mu.Unlock()

	if t.BroadcastQuery != nil {
		t.BroadcastQuery(addr)
	}
	return true
}

// expire removes addr's entry when its deadline fires. No negative
// answer is ever propagated upstream.
func (t *Table) expire(addr [relaykeys.PublicKeySize]byte) {
	t.mu.Lock()
	_, ok := t.entries[addr]
	delete(t.entries, addr)
	t.mu.Unlock()
	if ok {
		t.debugf("location: query for %s expired", relaykeys.Hex(addr))
		if t.OnExpire != nil {
			t.OnExpire()
		}
	}
}

// HandleResponse resolves (or discards) a QUERY_RESPONSE for addr.
// Concurrent responses for the same addr are first-wins: whichever call
// removes the entry wins, later calls find it already gone and are
// ignored. It reports true only when a parked frame was actually handed
// to an open owner session.
func (t *Table) HandleResponse(addr [relaykeys.PublicKeySize]byte, found bool, owner [relaykeys.PublicKeySize]byte) bool {
	t.mu.Lock()
	e, ok := t.entries[addr]
	if ok {
		delete(t.entries, addr)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	if !found {
		return false
	}
	if t.ResolvePeerSession == nil {
		return false
	}
	sess, ok := t.ResolvePeerSession(owner)
	if !ok || sess == nil || !sess.Open() {
		t.debugf("location: owner %s for %s has no open session", relaykeys.Hex(owner), relaykeys.Hex(addr))
		return false
	}
	forward := &wire.Frame{Type: wire.Data, Payload: e.frame.Payload, SenderID: e.frame.SenderID}
	if err := sess.Send(forward); err != nil {
		t.debugf("location: forward to owner %s failed: %v", relaykeys.Hex(owner), err)
		return false
	}
	return true
}

// Len reports the number of entries currently pending, for tests and
// metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Has reports whether addr currently has a pending entry.
func (t *Table) Has(addr [relaykeys.PublicKeySize]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[addr]
	return ok
}

func (t *Table) debugf(format string, args ...any) {
	if t.log != nil {
		t.log.Debugf(format, args...)
	}
}
