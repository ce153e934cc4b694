package nodeinfo

import (
	"errors"

	"relaynet/internal/directory"
	"relaynet/internal/location"
	"relaynet/internal/relaykeys"
	"relaynet/internal/session"
	"relaynet/internal/wire"
)

var (
	errEmptyPayload    = errors.New("nodeinfo: empty payload")
	errUnknownSubtype  = errors.New("nodeinfo: unrecognized subtype")
)

// Logger is the minimal logging contract the gossip handler needs.
type Logger interface {
	Debugf(format string, args ...any)
}

// Gossip handles every NODE_INFO subtype. One instance is shared by
// every session on a node: directories and the location table own
// their own locks, this type holds none.
type Gossip struct {
	ownPublic     [relaykeys.PublicKeySize]byte
	ownListenAddr string

	clients  *directory.Clients
	peers    *directory.Peers
	location *location.Table

	// Dial connects to addr immediately. Injected so this package never
	// depends on the transport adapter directly.
	Dial func(addr string)

	// ScheduleDial is like Dial but delays the attempt briefly after a
	// RESPONSE_SERVERS advertisement; the injected scheduler owns that
	// timer.
	ScheduleDial func(addr string)

	// OnQueryResolved, if set, is called after every QUERY_RESPONSE is
	// handled: found reports the status byte, delivered reports whether
	// a parked frame was actually handed to an owner session. For
	// metrics only.
	OnQueryResolved func(found, delivered bool)

	log Logger
}

// New builds a gossip handler bound to this node's identity, listen
// address, and directories.
func New(ownPublic [relaykeys.PublicKeySize]byte, ownListenAddr string, clients *directory.Clients, peers *directory.Peers, loc *location.Table, log Logger) *Gossip {
	return &Gossip{
		ownPublic:     ownPublic,
		ownListenAddr: ownListenAddr,
		clients:       clients,
		peers:         peers,
		location:      loc,
		log:           log,
	}
}

// RequestServersFrame builds the REQUEST_SERVERS frame emitted
// opportunistically right after a new peer session authenticates.
func (g *Gossip) RequestServersFrame() *wire.Frame {
	return &wire.Frame{Type: wire.NodeInfo, Payload: EncodeRequestServers()}
}

// Handle processes one inbound NODE_INFO frame. It returns the frame to
// send back on the same session in reply (nil if none), or a non-nil
// error meaning the session must be closed.
func (g *Gossip) Handle(sess *session.Session, f *wire.Frame) (*wire.Frame, error) {
	if len(f.Payload) < 1 {
		return nil, errEmptyPayload
	}
	body := f.Payload[1:]
	switch Subtype(f.Payload[0]) {
	case RequestServers:
		return g.handleRequestServers()
	case ResponseServers:
		return nil, g.handleResponseServers(sess, body)
	case AddServer:
		return nil, g.handleAddServer(body)
	case QueryClient:
		return g.handleQueryClient(body)
	case QueryResponse:
		return nil, g.handleQueryResponse(body)
	case RequestClients, ResponseClients:
		return nil, nil
	default:
		return nil, errUnknownSubtype
	}
}

func (g *Gossip) handleRequestServers() (*wire.Frame, error) {
	entries := make([]ServerEntry, 0)
	for _, rec := range g.peers.All() {
		if rec.Address == "" || rec.Address == directory.UnknownAddress {
			continue
		}
		if rec.PublicKey == g.ownPublic {
			continue
		}
		entries = append(entries, ServerEntry{PublicKey: rec.PublicKey, Address: rec.Address})
	}
	payload, err := EncodeResponseServers(entries)
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Type: wire.NodeInfo, Payload: payload}, nil
}

// handleResponseServers is only honored when sess is an authenticated
// peer session; otherwise the advertisement is silently ignored rather
// than treated as an error.
func (g *Gossip) handleResponseServers(sess *session.Session, body []byte) error {
	if sess.Classification() != session.Peer {
		return nil
	}
	entries, err := DecodeResponseServers(body)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.PublicKey == g.ownPublic {
			continue
		}
		if g.peers.Has(e.PublicKey) {
			continue
		}
		g.peers.Upsert(e.PublicKey, e.Address, "pex")
		if g.ScheduleDial != nil && e.Address != "" && e.Address != directory.UnknownAddress {
			g.ScheduleDial(e.Address)
		}
	}
	return nil
}

func (g *Gossip) handleAddServer(body []byte) error {
	addr, err := DecodeAddServer(body)
	if err != nil {
		return err
	}
	if addr == g.ownListenAddr || g.peers.HasAddress(addr) {
		return nil
	}
	if g.Dial != nil {
		g.Dial(addr)
	}
	return nil
}

// handleQueryClient answers on the same session the query arrived on;
// queries are never forwarded past this one hop.
func (g *Gossip) handleQueryClient(body []byte) (*wire.Frame, error) {
	target, err := DecodeQueryClient(body)
	if err != nil {
		return nil, err
	}
	if g.clients.Has(target) {
		return &wire.Frame{Type: wire.NodeInfo, Payload: EncodeQueryResponse(target, true, g.ownPublic)}, nil
	}
	var zero [relaykeys.PublicKeySize]byte
	return &wire.Frame{Type: wire.NodeInfo, Payload: EncodeQueryResponse(target, false, zero)}, nil
}

func (g *Gossip) handleQueryResponse(body []byte) error {
	qr, err := DecodeQueryResponse(body)
	if err != nil {
		return err
	}
	delivered := g.location.HandleResponse(qr.target, qr.found, qr.owner)
	if g.OnQueryResolved != nil {
		g.OnQueryResolved(qr.found, delivered)
	}
	return nil
}

func (g *Gossip) debugf(format string, args ...any) {
	if g.log != nil {
		g.log.Debugf(format, args...)
	}
}
