package relay

import (
	"testing"
	"time"

	"relaynet/internal/directory"
	"relaynet/internal/handshake"
	"relaynet/internal/location"
	"relaynet/internal/metrics"
	"relaynet/internal/nodeinfo"
	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
	"relaynet/internal/wire"
)

type recordingStream struct {
	got []*wire.Frame
}

func (r *recordingStream) Send(f *wire.Frame) error {
	r.got = append(r.got, f)
	return nil
}
func (r *recordingStream) Close() error       { return nil }
func (r *recordingStream) RemoteAddr() string { return "recording" }

// newTestNode builds a Node with its directories, handshake engine,
// location table, gossip handler and metrics wired as New() does, but
// without binding a real transport listener, so dispatch logic can be
// exercised directly against fake streams. The dial hooks and the
// metrics callbacks on location/gossip are left unset.
func newTestNode(t *testing.T) *Node {
	identity, err := relaykeys.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	clients := directory.NewClients()
	peers := directory.NewPeers()

	n := &Node{
		identity:   identity,
		listenAddr: "test.example:9000",
		clients:    clients,
		peers:      peers,
	}
	n.handshake = handshake.New(identity, clients, peers, nil)
	n.location = location.New(50*time.Millisecond, nil)
	n.gossip = nodeinfo.New(identity.Public, n.listenAddr, clients, peers, n.location, nil)
	n.metrics = metrics.New(func() int { return len(clients.All()) }, func() int { return len(peers.OpenSessions()) })
	n.location.BroadcastQuery = n.broadcastQuery
	n.location.ResolvePeerSession = n.resolvePeerSession
	return n
}

func authenticate(t *testing.T, n *Node, sess *session.Session) *relaykeys.Identity {
	start, err := n.handshake.Start(sess)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	var challenge [relaykeys.ChallengeSize]byte
	copy(challenge[:], start.Payload)
	id, err := relaykeys.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	resp := handshake.BuildResponse(id, challenge)
	if err := n.dispatch(sess, resp); err != nil {
		t.Fatalf("dispatch(handshake response) failed: %v", err)
	}
	return id
}

// TestHandshakeSuccessScenario covers a client completing the handshake
// and ending up attached to the client directory.
func TestHandshakeSuccessScenario(t *testing.T) {
	n := newTestNode(t)
	stream := &recordingStream{}
	sess := session.New(stream, false)

	clientID := authenticate(t, n, sess)

	if len(stream.got) != 1 || stream.got[0].Type != wire.Handshake || stream.got[0].Payload[0] != 0x01 {
		t.Fatalf("expected a confirmation frame, got %+v", stream.got)
	}
	rec, ok := n.clients.Lookup(clientID.Public)
	if !ok || rec.Session != sess {
		t.Fatalf("expected local-client directory record for the new client")
	}
	if !n.authenticated(sess) {
		t.Fatalf("session should be authenticated after handshake")
	}
}

// TestHandshakeChallengeMismatchScenario covers a signed response over
// the wrong challenge: the handshake must fail and leave the directory
// untouched.
func TestHandshakeChallengeMismatchScenario(t *testing.T) {
	n := newTestNode(t)
	stream := &recordingStream{}
	sess := session.New(stream, false)

	if _, err := n.handshake.Start(sess); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id, _ := relaykeys.Generate()
	var bogus [relaykeys.ChallengeSize]byte
	bogus[0] = 0xFF
	resp := handshake.BuildResponse(id, bogus)

	if err := n.dispatch(sess, resp); err == nil {
		t.Fatalf("expected dispatch to report an error requiring session close")
	}
	if n.clients.Has(id.Public) {
		t.Fatalf("directory must not be mutated on a failed handshake")
	}
}

// TestLocalDeliveryScenario covers a DATA frame addressed to another
// client already authenticated on the same node: delivery happens
// locally, with no location lookup involved.
func TestLocalDeliveryScenario(t *testing.T) {
	n := newTestNode(t)

	stream1 := &recordingStream{}
	sess1 := session.New(stream1, false)
	id1 := authenticate(t, n, sess1)

	stream2 := &recordingStream{}
	sess2 := session.New(stream2, false)
	id2 := authenticate(t, n, sess2)

	payload := append(append([]byte{}, id2.Public[:]...), []byte("hi")...)
	dataFrame := &wire.Frame{Type: wire.Data, Payload: payload, SenderID: id1.Public}

	if err := n.dispatch(sess1, dataFrame); err != nil {
		t.Fatalf("dispatch(data) failed: %v", err)
	}

	// stream2 received its own handshake confirmation already; the
	// delivered DATA frame is the one after it.
	if len(stream2.got) != 2 {
		t.Fatalf("expected handshake confirm + one delivered frame, got %d", len(stream2.got))
	}
	delivered := stream2.got[1]
	if delivered.Type != wire.Data || string(delivered.Payload) != "hi" || delivered.SenderID != id1.Public {
		t.Fatalf("unexpected delivered frame: %+v", delivered)
	}
}

// TestNonHandshakeBeforeAuthenticationCloses covers the dispatcher's
// gate: any non-HANDSHAKE frame on an unauthenticated session is a
// closing error.
func TestNonHandshakeBeforeAuthenticationCloses(t *testing.T) {
	n := newTestNode(t)
	sess := session.New(&recordingStream{}, false)
	if _, err := n.handshake.Start(sess); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frame := &wire.Frame{Type: wire.Data, Payload: make([]byte, 40)}
	if err := n.dispatch(sess, frame); err == nil {
		t.Fatalf("expected error for non-handshake frame before authentication")
	}
}

// TestUnknownFrameTypeCloses covers the dispatcher's unknown-type gate.
func TestUnknownFrameTypeCloses(t *testing.T) {
	n := newTestNode(t)
	sess := session.New(&recordingStream{}, false)
	authenticate(t, n, sess)

	frame := &wire.Frame{Type: wire.FrameType(0xEE)}
	if err := n.dispatch(sess, frame); err == nil {
		t.Fatalf("expected error for unrecognized frame type")
	}
}

// TestShortDataPayloadDroppedWithoutClosing covers the "drop and log"
// rule for a DATA payload shorter than the 32-byte addressee prefix: it
// must not be treated as a closing exception.
func TestShortDataPayloadDroppedWithoutClosing(t *testing.T) {
	n := newTestNode(t)
	sess := session.New(&recordingStream{}, false)
	authenticate(t, n, sess)

	frame := &wire.Frame{Type: wire.Data, Payload: []byte("short")}
	if err := n.dispatch(sess, frame); err != nil {
		t.Fatalf("short payload must be dropped, not closed: %v", err)
	}
}

// TestFederatedDeliveryScenario covers delivery to a client attached to
// a different node, exercising the full QUERY_CLIENT/QUERY_RESPONSE
// handoff across two Node values wired directly to each other via fake
// streams instead of real transport.
func TestFederatedDeliveryScenario(t *testing.T) {
	n1 := newTestNode(t)
	n2 := newTestNode(t)

	// Wire N1's view of N2 and vice versa as peer sessions whose Send
	// hands the frame directly to the other node's dispatch.
	toN2 := &funcStream{}
	toN1 := &funcStream{}
	sessN1ToN2 := session.New(toN2, true) // N1 dialed N2
	sessN2ToN1 := session.New(toN1, false)
	toN2.send = func(f *wire.Frame) error { return n2.dispatch(sessN2ToN1, f) }
	toN1.send = func(f *wire.Frame) error { return n1.dispatch(sessN1ToN2, f) }

	// Each side's peer directory is keyed by the other node's real
	// identity, since that is the owner key QUERY_RESPONSE carries.
	n1.peers.Attach(n2.identity.Public, sessN1ToN2)
	sessN1ToN2.SetClassification(session.Peer)
	n2.peers.Attach(n1.identity.Public, sessN2ToN1)
	sessN2ToN1.SetClassification(session.Peer)

	client1Stream := &recordingStream{}
	client1Sess := session.New(client1Stream, false)
	kc1 := authenticate(t, n1, client1Sess)

	client2Stream := &recordingStream{}
	client2Sess := session.New(client2Stream, false)
	kc2 := authenticate(t, n2, client2Sess)

	payload := append(append([]byte{}, kc2.Public[:]...), []byte("hi")...)
	dataFrame := &wire.Frame{Type: wire.Data, Payload: payload, SenderID: kc1.Public}

	if err := n1.dispatch(client1Sess, dataFrame); err != nil {
		t.Fatalf("dispatch on N1 failed: %v", err)
	}

	if len(client2Stream.got) != 2 {
		t.Fatalf("expected handshake confirm + delivered frame on N2's client, got %d", len(client2Stream.got))
	}
	delivered := client2Stream.got[1]
	if string(delivered.Payload) != "hi" || delivered.SenderID != kc1.Public {
		t.Fatalf("unexpected delivered frame: %+v", delivered)
	}
}

type funcStream struct {
	send func(*wire.Frame) error
}

func (f *funcStream) Send(frame *wire.Frame) error { return f.send(frame) }
func (f *funcStream) Close() error                 { return nil }
func (f *funcStream) RemoteAddr() string           { return "func" }
