// Package handshake implements the challenge/response mutual-
// authentication state machine shared by client and peer sessions. The
// per-session "pending challenge we're waiting on" is an explicit map
// keyed by session identity here, rather than an attribute glued onto
// the transport handle.
package handshake

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"relaynet/internal/directory"
	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
	"relaynet/internal/wire"
)

var (
	errBadSignature      = errors.New("handshake: bad signature")
	errChallengeMismatch = errors.New("handshake: challenge mismatch")
	errBadShape           = errors.New("handshake: unrecognized handshake frame shape")
)

// Logger is the minimal logging contract the engine needs; satisfied by
// internal/debuglog.
type Logger interface {
	Debugf(format string, args ...any)
}

// Engine drives every session from INIT through AUTHENTICATED_CLIENT or
// AUTHENTICATED_PEER. One Engine is shared by every session on a node; all
// of its state is guarded by one mutex.
type Engine struct {
	identity *relaykeys.Identity
	clients  *directory.Clients
	peers    *directory.Peers
	log      Logger

	mu      sync.Mutex
	pending map[*session.Session][relaykeys.ChallengeSize]byte
}

// New builds a handshake engine bound to this node's identity and
// directories.
func New(identity *relaykeys.Identity, clients *directory.Clients, peers *directory.Peers, log Logger) *Engine {
	return &Engine{
		identity: identity,
		clients:  clients,
		peers:    peers,
		log:      log,
		pending:  make(map[*session.Session][relaykeys.ChallengeSize]byte),
	}
}

// Start transitions a freshly connected session into AWAITING_PROOF: it
// generates a random challenge, records it for this session, and returns
// the HANDSHAKE frame the caller must send.
func (e *Engine) Start(sess *session.Session) (*wire.Frame, error) {
	challenge, err := relaykeys.RandomChallenge()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.pending[sess] = challenge
	e.mu.Unlock()
	return &wire.Frame{Type: wire.Handshake, Payload: append([]byte(nil), challenge[:]...)}, nil
}

// Forget drops any pending challenge recorded for sess, called when a
// session closes before completing its handshake.
func (e *Engine) Forget(sess *session.Session) {
	e.mu.Lock()
	delete(e.pending, sess)
	e.mu.Unlock()
}

// Handle processes one inbound HANDSHAKE frame. It returns the frame to
// send in reply (nil if none is needed), or a non-nil error meaning the
// session must be closed.
func (e *Engine) Handle(sess *session.Session, f *wire.Frame) (*wire.Frame, error) {
	switch {
	case len(f.Payload) == relaykeys.ChallengeSize && f.Signed():
		return e.handleSignedResponse(sess, f)
	case len(f.Payload) == relaykeys.ChallengeSize && !f.Signed():
		return e.handleUnsignedChallenge(f)
	case len(f.Payload) == 1 && f.Payload[0] == 0x01:
		return nil, nil
	default:
		return nil, errBadShape
	}
}

// handleSignedResponse verifies a 32-byte signed payload against the
// challenge this engine recorded for sess, then authenticates the
// session as client or peer.
func (e *Engine) handleSignedResponse(sess *session.Session, f *wire.Frame) (*wire.Frame, error) {
	if !relaykeys.Verify(f.SenderID, f.Payload, f.Signature) {
		return nil, errBadSignature
	}
	e.mu.Lock()
	recorded, ok := e.pending[sess]
	e.mu.Unlock()
	if !ok || !bytes.Equal(recorded[:], f.Payload) {
		return nil, errChallengeMismatch
	}

	confirm := &wire.Frame{Type: wire.Handshake, Payload: []byte{0x01}, SenderID: e.identity.Public}

	switch {
	case sess.Dialed():
		// A key already known as a client is evicted from the client
		// directory before the peer record attaches, preserving the
		// "never both at once" invariant.
		e.clients.Remove(f.SenderID)
		rec := e.peers.Attach(f.SenderID, sess)
		sess.SetClassification(session.Peer)
		e.debugf("handshake: peer authenticated (dialed) pub=%s addr=%s", relaykeys.Hex(f.SenderID), rec.Address)
	case e.peers.Has(f.SenderID):
		e.clients.Remove(f.SenderID)
		e.peers.Attach(f.SenderID, sess)
		sess.SetClassification(session.Peer)
		e.debugf("handshake: peer authenticated (upgraded) pub=%s", relaykeys.Hex(f.SenderID))
	default:
		e.clients.Add(f.SenderID, sess)
		sess.SetClassification(session.Client)
		e.debugf("handshake: client authenticated pub=%s", relaykeys.Hex(f.SenderID))
	}

	e.mu.Lock()
	delete(e.pending, sess)
	e.mu.Unlock()
	return confirm, nil
}

// handleUnsignedChallenge signs the other side's still-unidentified
// 32-byte challenge and replies with our identity and the proof, without
// touching our own recorded challenge.
func (e *Engine) handleUnsignedChallenge(f *wire.Frame) (*wire.Frame, error) {
	sig := e.identity.Sign(f.Payload)
	return &wire.Frame{
		Type:      wire.Handshake,
		Payload:   append([]byte(nil), f.Payload...),
		SenderID:  e.identity.Public,
		Signature: sig,
	}, nil
}

func (e *Engine) debugf(format string, args ...any) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

// BuildResponse is used by the client-side SDK to answer a 32-byte
// challenge: sign it and attach our public key. The node's own sessions
// answer a challenge through Handle instead.
func BuildResponse(identity *relaykeys.Identity, challenge [relaykeys.ChallengeSize]byte) *wire.Frame {
	sig := identity.Sign(challenge[:])
	return &wire.Frame{
		Type:      wire.Handshake,
		Payload:   append([]byte(nil), challenge[:]...),
		SenderID:  identity.Public,
		Signature: sig,
	}
}

// Err renders a handshake handling error with its session for logging.
func Err(sess *session.Session, err error) error {
	return fmt.Errorf("%v: %w", sess, err)
}
