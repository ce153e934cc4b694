// Package relay is the node's top-level orchestrator, wiring directories,
// the handshake engine, the location service, gossip, metrics, and the
// transport adapter into the dispatcher and data router: one struct
// holding every collaborator and a constructor. Writing metrics
// snapshots to disk is left to the caller (see Metrics).
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaynet/internal/debuglog"
	"relaynet/internal/directory"
	"relaynet/internal/handshake"
	"relaynet/internal/location"
	"relaynet/internal/metrics"
	"relaynet/internal/nodeinfo"
	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

// Options configures a Node. ListenAddr and Identity are required;
// everything else falls back to a sensible default.
type Options struct {
	ListenAddr     string
	Identity       *relaykeys.Identity
	QueryDeadline  time.Duration
	MetricsPath    string
	DialInsecure   bool
}

// Node is one running relay: its identity, directories, and every
// collaborator the dispatcher needs.
type Node struct {
	identity   *relaykeys.Identity
	listenAddr string

	clients *directory.Clients
	peers   *directory.Peers

	handshake *handshake.Engine
	location  *location.Table
	gossip    *nodeinfo.Gossip
	metrics   *metrics.Metrics
	pex       *pexDialer

	listener *transport.Listener
	insecure bool

	log debuglog.Logger
}

// New wires every collaborator together and binds the listener.
func New(opts Options) (*Node, error) {
	if opts.ListenAddr == "" {
		return nil, errors.New("relay: ListenAddr is required")
	}
	if opts.Identity == nil {
		return nil, errors.New("relay: Identity is required")
	}

	clients := directory.NewClients()
	peers := directory.NewPeers()
	log := debuglog.Logger{}

	n := &Node{
		identity:   opts.Identity,
		listenAddr: opts.ListenAddr,
		clients:    clients,
		peers:      peers,
		insecure:   opts.DialInsecure,
		log:        log,
	}

	n.handshake = handshake.New(opts.Identity, clients, peers, log)
	n.location = location.New(opts.QueryDeadline, log)
	n.gossip = nodeinfo.New(opts.Identity.Public, opts.ListenAddr, clients, peers, n.location, log)
	n.metrics = metrics.New(
		func() int { return len(clients.All()) },
		func() int { return len(peers.OpenSessions()) },
	)

	n.location.BroadcastQuery = n.broadcastQuery
	n.location.ResolvePeerSession = n.resolvePeerSession
	n.location.OnExpire = n.metrics.IncLocationExpired
	n.gossip.OnQueryResolved = func(found, delivered bool) {
		if found {
			n.metrics.IncLocationFound()
		} else {
			n.metrics.IncLocationNotFound()
		}
		_ = delivered
	}
	n.pex = newPexDialer(func(addr string) error { return n.dialAndRun(context.Background(), addr) })
	n.gossip.Dial = func(addr string) { go n.dialAndRun(context.Background(), addr) }
	n.gossip.ScheduleDial = func(addr string) { n.pex.schedule(addr) }

	listener, err := transport.Listen(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen %s: %w", opts.ListenAddr, err)
	}
	n.listener = listener
	return n, nil
}

// Metrics exposes the node's counters, e.g. for a snapshot-writer loop
// or an admin endpoint.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// ListenAddr returns the address the node is actually bound to.
func (n *Node) ListenAddr() string { return n.listener.Addr().String() }

// Serve accepts inbound connections until ctx is cancelled or the
// listener is closed.
func (n *Node) Serve(ctx context.Context) error {
	for {
		conn, err := n.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Debugf("relay: accept error: %v", err)
			return err
		}
		go n.runSession(conn, false)
	}
}

// Close stops accepting new connections.
func (n *Node) Close() error { return n.listener.Close() }

// DialPeer opens an outbound session to addr, pre-classified as a peer.
func (n *Node) DialPeer(ctx context.Context, addr string) error {
	return n.dialAndRun(ctx, addr)
}

func (n *Node) dialAndRun(ctx context.Context, addr string) error {
	conn, err := transport.Dial(ctx, addr, n.insecure)
	if err != nil {
		n.log.Debugf("relay: dial %s failed: %v", addr, err)
		return err
	}
	n.runSession(conn, true)
	return nil
}

// runSession drives one connection from INIT through close. dialed marks
// outbound connections, pre-classified as peer.
func (n *Node) runSession(conn *transport.Conn, dialed bool) {
	sess := session.New(conn, dialed)
	defer func() {
		_ = sess.Close()
		n.handshake.Forget(sess)
		n.peers.Detach(sess)
		n.clients.RemoveSession(sess)
		n.metrics.IncSessionClosed()
	}()

	start, err := n.handshake.Start(sess)
	if err != nil {
		n.log.Debugf("relay: %s: failed to start handshake: %v", sess, err)
		return
	}
	if err := sess.Send(start); err != nil {
		n.log.Debugf("relay: %s: failed to send initial challenge: %v", sess, err)
		return
	}

	for {
		frame, err := conn.Recv()
		if err != nil {
			n.log.Debugf("relay: %s: read ended: %v", sess, err)
			return
		}
		n.metrics.IncFrame(frame.Type.String())
		if err := n.dispatch(sess, frame); err != nil {
			n.log.Debugf("relay: %s: closing on %v", sess, err)
			return
		}
	}
}

// authenticated reports whether sess is currently attached to a client
// or peer directory record, the dispatcher's gate for anything but
// HANDSHAKE frames.
func (n *Node) authenticated(sess *session.Session) bool {
	if _, ok := n.clients.LookupSession(sess); ok {
		return true
	}
	_, ok := n.peers.LookupSession(sess)
	return ok
}

// dispatch routes one frame by type. A non-nil error means the caller
// must close the session.
func (n *Node) dispatch(sess *session.Session, frame *wire.Frame) error {
	if frame.Type != wire.Handshake && !n.authenticated(sess) {
		return fmt.Errorf("non-handshake frame before authentication")
	}

	switch frame.Type {
	case wire.Handshake:
		return n.dispatchHandshake(sess, frame)
	case wire.Data, wire.SignedData:
		return n.handleData(sess, frame)
	case wire.NodeInfo:
		reply, err := n.gossip.Handle(sess, frame)
		if err != nil {
			return err
		}
		if reply != nil {
			return sess.Send(reply)
		}
		return nil
	default:
		return fmt.Errorf("unrecognized frame type %v", frame.Type)
	}
}

func (n *Node) dispatchHandshake(sess *session.Session, frame *wire.Frame) error {
	isSignedResponse := len(frame.Payload) == relaykeys.ChallengeSize && frame.Signed()

	reply, err := n.handshake.Handle(sess, frame)
	if err != nil {
		n.metrics.IncHandshakeFailed()
		return err
	}
	if reply != nil {
		if err := sess.Send(reply); err != nil {
			return err
		}
	}
	if isSignedResponse {
		n.metrics.IncHandshakeSucceeded()
		switch sess.Classification() {
		case session.Peer:
			n.metrics.IncHandshakeAsPeer()
			if err := sess.Send(n.gossip.RequestServersFrame()); err != nil {
				n.log.Debugf("relay: %s: failed to seed discovery: %v", sess, err)
			}
		case session.Client:
			n.metrics.IncHandshakeAsClient()
		}
	}
	return nil
}

// handleData implements the data router: local delivery by addressee
// prefix, or a handoff to the location service when the addressee isn't
// on this node.
func (n *Node) handleData(sess *session.Session, frame *wire.Frame) error {
	if len(frame.Payload) < relaykeys.PublicKeySize {
		n.log.Debugf("relay: %s: dropping short DATA payload (%d bytes)", sess, len(frame.Payload))
		return nil
	}
	var addr [relaykeys.PublicKeySize]byte
	copy(addr[:], frame.Payload[:relaykeys.PublicKeySize])

	if rec, ok := n.clients.Lookup(addr); ok && rec.Session.Open() {
		forward := &wire.Frame{
			Type:     frame.Type,
			Payload:  frame.Payload[relaykeys.PublicKeySize:],
			SenderID: frame.SenderID,
		}
		return rec.Session.Send(forward)
	}

	if n.location.ForwardRemote(addr, frame, sess.String()) {
		n.metrics.IncLocationForwarded()
	} else {
		n.metrics.IncLocationDuplicate()
	}
	return nil
}

func (n *Node) broadcastQuery(addr [relaykeys.PublicKeySize]byte) {
	query := &wire.Frame{Type: wire.NodeInfo, Payload: nodeinfo.EncodeQueryClient(addr)}
	for _, rec := range n.peers.OpenSessions() {
		if err := rec.Session.Send(query); err != nil {
			n.log.Debugf("relay: query broadcast to %s failed: %v", relaykeys.Hex(rec.PublicKey), err)
		}
	}
}

func (n *Node) resolvePeerSession(pub [relaykeys.PublicKeySize]byte) (*session.Session, bool) {
	rec, ok := n.peers.Lookup(pub)
	if !ok || rec.Session == nil {
		return nil, false
	}
	return rec.Session, true
}
