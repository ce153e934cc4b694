package directory

import (
	"testing"

	"relaynet/internal/session"
	"relaynet/internal/wire"
)

// nullStream is a no-op session.Stream used to exercise directory
// bookkeeping without a real transport.
type nullStream struct{}

func (n *nullStream) Send(*wire.Frame) error { return nil }
func (n *nullStream) Close() error           { return nil }
func (n *nullStream) RemoteAddr() string     { return "null" }

func TestClientsAddReplacesAndClosesOldSession(t *testing.T) {
	clients := NewClients()
	var pub [32]byte
	pub[0] = 1

	s1 := session.New(&nullStream{}, false)
	s2 := session.New(&nullStream{}, false)

	clients.Add(pub, s1)
	if !clients.Has(pub) {
		t.Fatalf("expected client present after Add")
	}
	clients.Add(pub, s2)
	if s1.Open() {
		t.Fatalf("old session should have been closed on replacement")
	}
	rec, ok := clients.Lookup(pub)
	if !ok || rec.Session != s2 {
		t.Fatalf("expected new session attached")
	}
}

func TestClientsRemoveSession(t *testing.T) {
	clients := NewClients()
	var pub [32]byte
	pub[1] = 7
	s := session.New(&nullStream{}, false)
	clients.Add(pub, s)
	gotPub, ok := clients.RemoveSession(s)
	if !ok || gotPub != pub {
		t.Fatalf("RemoveSession failed to find record")
	}
	if clients.Has(pub) {
		t.Fatalf("expected client removed")
	}
}

func TestPeersUpsertPreservesAddressOnAttach(t *testing.T) {
	peers := NewPeers()
	var pub [32]byte
	pub[2] = 9
	peers.Upsert(pub, "addr1:1234", "pex")

	s := session.New(&nullStream{}, false)
	peers.Attach(pub, s)

	rec, ok := peers.Lookup(pub)
	if !ok {
		t.Fatalf("expected peer record")
	}
	if rec.Address != "addr1:1234" {
		t.Fatalf("address = %q, want preserved addr1:1234", rec.Address)
	}
	if rec.Session != s {
		t.Fatalf("expected session attached")
	}
}

func TestPeersDetachKeepsRecord(t *testing.T) {
	peers := NewPeers()
	var pub [32]byte
	pub[3] = 4
	s := session.New(&nullStream{}, false)
	peers.Attach(pub, s)
	peers.Detach(s)

	rec, ok := peers.Lookup(pub)
	if !ok {
		t.Fatalf("expected peer record retained after detach")
	}
	if rec.Session != nil {
		t.Fatalf("expected session cleared after detach")
	}
}

func TestPeersAttachClosesDifferentOldSession(t *testing.T) {
	peers := NewPeers()
	var pub [32]byte
	pub[4] = 5
	s1 := session.New(&nullStream{}, false)
	s2 := session.New(&nullStream{}, false)
	peers.Attach(pub, s1)
	peers.Attach(pub, s2)
	if s1.Open() {
		t.Fatalf("expected old peer session closed on reattach")
	}
}

func TestPeersHasAddress(t *testing.T) {
	peers := NewPeers()
	var pub [32]byte
	pub[5] = 6
	peers.Upsert(pub, "addr9:9999", "manual")
	if !peers.HasAddress("addr9:9999") {
		t.Fatalf("expected HasAddress true for known address")
	}
	if peers.HasAddress("nope:0") {
		t.Fatalf("expected HasAddress false for unknown address")
	}
}
