// Package session defines the Session abstraction shared by the handshake
// engine, the directories, and the dispatcher: one bidirectional binary
// stream, a classification that starts unset and is fixed once
// authentication succeeds, and a send/close primitive. The peer/client
// classification lives as an explicit field here; the pending challenge
// is kept by the handshake engine in a map keyed by session.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"relaynet/internal/wire"
)

// Classification is the session's authentication outcome.
type Classification int

const (
	Unset Classification = iota
	Client
	Peer
)

func (c Classification) String() string {
	switch c {
	case Client:
		return "client"
	case Peer:
		return "peer"
	default:
		return "unset"
	}
}

// Stream is the minimal transport-level contract a Session needs: send one
// frame, close the underlying connection, and describe it for logs. The
// concrete implementation (internal/transport) wraps a QUIC stream.
type Stream interface {
	Send(f *wire.Frame) error
	Close() error
	RemoteAddr() string
}

var nextID uint64

// Session wraps one Stream with the mutable state the core needs: its
// classification, whether it has been closed, and whether this node
// dialed it.
type Session struct {
	id     uint64
	stream Stream
	dialed bool // true if this node initiated the connection

	mu             sync.Mutex
	classification Classification
	closed         bool
}

// New wraps stream in a Session with a fresh local log identifier.
// dialed marks sessions this node opened outbound (pre-classified as
// "peer", since only peers are dialed).
func New(stream Stream, dialed bool) *Session {
	s := &Session{
		id:     atomic.AddUint64(&nextID, 1),
		stream: stream,
		dialed: dialed,
	}
	if dialed {
		s.classification = Peer
	}
	return s
}

// ID is the local opaque identifier used in logs.
func (s *Session) ID() uint64 { return s.id }

// Dialed reports whether this node initiated the connection.
func (s *Session) Dialed() bool { return s.dialed }

// RemoteAddr describes the peer end, for logs.
func (s *Session) RemoteAddr() string { return s.stream.RemoteAddr() }

func (s *Session) String() string {
	return fmt.Sprintf("session#%d(%s,%s)", s.id, s.Classification(), s.RemoteAddr())
}

// Classification returns the session's current authentication state.
func (s *Session) Classification() Classification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classification
}

// SetClassification updates the session's authentication state.
func (s *Session) SetClassification(c Classification) {
	s.mu.Lock()
	s.classification = c
	s.mu.Unlock()
}

// Send enqueues one frame on the underlying stream. Sends on a closed
// session are discarded rather than erroring the caller.
func (s *Session) Send(f *wire.Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return s.stream.Send(f)
}

// Open reports whether the session has not yet been closed.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close closes the underlying stream. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.stream.Close()
}
