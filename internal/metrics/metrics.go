// Package metrics is the node's counters collaborator: atomic counters
// (frames by type, handshake outcomes, location hits/misses/timeouts,
// peer counts) plus a periodic JSON snapshot written to disk.
package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

// FrameCounts tallies dispatched frames by type.
type FrameCounts struct {
	Handshake  uint64 `json:"handshake"`
	Data       uint64 `json:"data"`
	SignedData uint64 `json:"signed_data"`
	NodeInfo   uint64 `json:"node_info"`
	Unknown    uint64 `json:"unknown"`
}

// HandshakeCounts tallies handshake outcomes.
type HandshakeCounts struct {
	Succeeded        uint64 `json:"succeeded"`
	Failed           uint64 `json:"failed"`
	AuthenticatedAsClient uint64 `json:"authenticated_as_client"`
	AuthenticatedAsPeer   uint64 `json:"authenticated_as_peer"`
}

// LocationCounts tallies federated-lookup outcomes.
type LocationCounts struct {
	ForwardedRemote uint64 `json:"forwarded_remote"`
	DroppedDuplicate uint64 `json:"dropped_duplicate"`
	ResolvedFound    uint64 `json:"resolved_found"`
	ResolvedNotFound uint64 `json:"resolved_not_found"`
	Expired          uint64 `json:"expired"`
}

// Snapshot is the point-in-time rendering of every counter, written to
// disk as JSON.
type Snapshot struct {
	GeneratedAt   time.Time       `json:"generated_at"`
	Frames        FrameCounts     `json:"frames"`
	Handshakes    HandshakeCounts `json:"handshakes"`
	Location      LocationCounts  `json:"location"`
	SessionsClosed uint64         `json:"sessions_closed"`
	ClientsOnline  int            `json:"clients_online"`
	PeersOnline    int            `json:"peers_online"`
}

// Metrics holds every counter the node maintains. All fields are
// updated via atomic ops so any goroutine can increment them without a
// lock.
type Metrics struct {
	framesHandshake  atomic.Uint64
	framesData       atomic.Uint64
	framesSignedData atomic.Uint64
	framesNodeInfo   atomic.Uint64
	framesUnknown    atomic.Uint64

	handshakeSucceeded       atomic.Uint64
	handshakeFailed          atomic.Uint64
	handshakeAsClient        atomic.Uint64
	handshakeAsPeer          atomic.Uint64

	locationForwarded  atomic.Uint64
	locationDuplicate  atomic.Uint64
	locationFound      atomic.Uint64
	locationNotFound   atomic.Uint64
	locationExpired    atomic.Uint64

	sessionsClosed atomic.Uint64

	// ClientsOnline/PeersOnline are gauges read from the directories at
	// snapshot time rather than counted here.
	clientsOnline func() int
	peersOnline   func() int
}

// New builds an empty counter set. clientsOnline/peersOnline are gauge
// callbacks (typically directory.Clients.All/directory.Peers.OpenSessions
// lengths); either may be nil.
func New(clientsOnline, peersOnline func() int) *Metrics {
	return &Metrics{clientsOnline: clientsOnline, peersOnline: peersOnline}
}

func (m *Metrics) IncFrame(frameType string) {
	switch frameType {
	case "HANDSHAKE":
		m.framesHandshake.Add(1)
	case "DATA":
		m.framesData.Add(1)
	case "SIGNED_DATA":
		m.framesSignedData.Add(1)
	case "NODE_INFO":
		m.framesNodeInfo.Add(1)
	default:
		m.framesUnknown.Add(1)
	}
}

func (m *Metrics) IncHandshakeSucceeded()       { m.handshakeSucceeded.Add(1) }
func (m *Metrics) IncHandshakeFailed()          { m.handshakeFailed.Add(1) }
func (m *Metrics) IncHandshakeAsClient()        { m.handshakeAsClient.Add(1) }
func (m *Metrics) IncHandshakeAsPeer()          { m.handshakeAsPeer.Add(1) }

func (m *Metrics) IncLocationForwarded()  { m.locationForwarded.Add(1) }
func (m *Metrics) IncLocationDuplicate()  { m.locationDuplicate.Add(1) }
func (m *Metrics) IncLocationFound()      { m.locationFound.Add(1) }
func (m *Metrics) IncLocationNotFound()   { m.locationNotFound.Add(1) }
func (m *Metrics) IncLocationExpired()    { m.locationExpired.Add(1) }

func (m *Metrics) IncSessionClosed() { m.sessionsClosed.Add(1) }

// Snapshot renders every counter's current value.
func (m *Metrics) Snapshot() Snapshot {
	clients, peers := 0, 0
	if m.clientsOnline != nil {
		clients = m.clientsOnline()
	}
	if m.peersOnline != nil {
		peers = m.peersOnline()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Frames: FrameCounts{
			Handshake:  m.framesHandshake.Load(),
			Data:       m.framesData.Load(),
			SignedData: m.framesSignedData.Load(),
			NodeInfo:   m.framesNodeInfo.Load(),
			Unknown:    m.framesUnknown.Load(),
		},
		Handshakes: HandshakeCounts{
			Succeeded:             m.handshakeSucceeded.Load(),
			Failed:                m.handshakeFailed.Load(),
			AuthenticatedAsClient: m.handshakeAsClient.Load(),
			AuthenticatedAsPeer:   m.handshakeAsPeer.Load(),
		},
		Location: LocationCounts{
			ForwardedRemote:  m.locationForwarded.Load(),
			DroppedDuplicate: m.locationDuplicate.Load(),
			ResolvedFound:    m.locationFound.Load(),
			ResolvedNotFound: m.locationNotFound.Load(),
			Expired:          m.locationExpired.Load(),
		},
		SessionsClosed: m.sessionsClosed.Load(),
		ClientsOnline:  clients,
		PeersOnline:    peers,
	}
}

// WriteSnapshot renders the current snapshot as indented JSON to path.
// A no-op when path is empty.
func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
