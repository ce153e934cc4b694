// Package nodeinfo implements the peer-gossip sub-protocol carried inside
// NODE_INFO frames: server-list exchange, opportunistic dialing, and the
// one-hop QUERY_CLIENT/QUERY_RESPONSE handoff to the location service.
// Each message subtype gets its own Encode/Decode function pair, using
// the same binary big-endian layout as internal/wire/frame.go.
package nodeinfo

import (
	"encoding/binary"
	"errors"

	"relaynet/internal/relaykeys"
)

// Subtype is the NODE_INFO payload's first byte.
type Subtype byte

const (
	RequestClients  Subtype = 0 // reserved, unused
	ResponseClients Subtype = 1 // reserved, unused
	RequestServers  Subtype = 2
	ResponseServers Subtype = 3
	AddServer       Subtype = 4
	QueryClient     Subtype = 5
	QueryResponse   Subtype = 6
)

const (
	statusNotFound byte = 0
	statusFound    byte = 1
)

var (
	errTooShort    = errors.New("nodeinfo: payload too short")
	errAddrTooLong = errors.New("nodeinfo: address longer than 255 bytes")
	errBadStatus   = errors.New("nodeinfo: unrecognized query status byte")
)

// ServerEntry is one advertised peer in a RESPONSE_SERVERS payload.
type ServerEntry struct {
	PublicKey [relaykeys.PublicKeySize]byte
	Address   string
}

// EncodeRequestServers returns the (subtype-only) REQUEST_SERVERS payload.
func EncodeRequestServers() []byte {
	return []byte{byte(RequestServers)}
}

// EncodeResponseServers serializes entries as u16 count followed by each
// entry's 32-byte pubkey, u8 addr_len, and address bytes.
func EncodeResponseServers(entries []ServerEntry) ([]byte, error) {
	buf := make([]byte, 0, 3+len(entries)*40)
	buf = append(buf, byte(ResponseServers))
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(entries)))
	buf = append(buf, count[:]...)
	for _, e := range entries {
		if len(e.Address) > 255 {
			return nil, errAddrTooLong
		}
		buf = append(buf, e.PublicKey[:]...)
		buf = append(buf, byte(len(e.Address)))
		buf = append(buf, []byte(e.Address)...)
	}
	return buf, nil
}

// DecodeResponseServers parses a RESPONSE_SERVERS payload (subtype byte
// already stripped).
func DecodeResponseServers(body []byte) ([]ServerEntry, error) {
	if len(body) < 2 {
		return nil, errTooShort
	}
	count := binary.BigEndian.Uint16(body[0:2])
	body = body[2:]
	out := make([]ServerEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(body) < relaykeys.PublicKeySize+1 {
			return nil, errTooShort
		}
		var e ServerEntry
		copy(e.PublicKey[:], body[:relaykeys.PublicKeySize])
		body = body[relaykeys.PublicKeySize:]
		addrLen := int(body[0])
		body = body[1:]
		if len(body) < addrLen {
			return nil, errTooShort
		}
		e.Address = string(body[:addrLen])
		body = body[addrLen:]
		out = append(out, e)
	}
	return out, nil
}

// EncodeAddServer serializes an ADD_SERVER payload.
func EncodeAddServer(addr string) ([]byte, error) {
	if len(addr) > 255 {
		return nil, errAddrTooLong
	}
	buf := make([]byte, 0, 2+len(addr))
	buf = append(buf, byte(AddServer), byte(len(addr)))
	buf = append(buf, []byte(addr)...)
	return buf, nil
}

// DecodeAddServer parses an ADD_SERVER payload (subtype byte already
// stripped).
func DecodeAddServer(body []byte) (string, error) {
	if len(body) < 1 {
		return "", errTooShort
	}
	addrLen := int(body[0])
	body = body[1:]
	if len(body) < addrLen {
		return "", errTooShort
	}
	return string(body[:addrLen]), nil
}

// EncodeQueryClient serializes a QUERY_CLIENT payload.
func EncodeQueryClient(target [relaykeys.PublicKeySize]byte) []byte {
	buf := make([]byte, 1+relaykeys.PublicKeySize)
	buf[0] = byte(QueryClient)
	copy(buf[1:], target[:])
	return buf
}

// DecodeQueryClient parses a QUERY_CLIENT payload (subtype byte already
// stripped).
func DecodeQueryClient(body []byte) ([relaykeys.PublicKeySize]byte, error) {
	var target [relaykeys.PublicKeySize]byte
	if len(body) < relaykeys.PublicKeySize {
		return target, errTooShort
	}
	copy(target[:], body[:relaykeys.PublicKeySize])
	return target, nil
}

// EncodeQueryResponse serializes a QUERY_RESPONSE payload. owner is
// ignored unless found is true.
func EncodeQueryResponse(target [relaykeys.PublicKeySize]byte, found bool, owner [relaykeys.PublicKeySize]byte) []byte {
	if !found {
		buf := make([]byte, 2+relaykeys.PublicKeySize)
		buf[0] = byte(QueryResponse)
		buf[1] = statusNotFound
		copy(buf[2:], target[:])
		return buf
	}
	buf := make([]byte, 2+2*relaykeys.PublicKeySize)
	buf[0] = byte(QueryResponse)
	buf[1] = statusFound
	copy(buf[2:2+relaykeys.PublicKeySize], target[:])
	copy(buf[2+relaykeys.PublicKeySize:], owner[:])
	return buf
}

// queryResponse is the parsed form of a QUERY_RESPONSE payload.
type queryResponse struct {
	target [relaykeys.PublicKeySize]byte
	found  bool
	owner  [relaykeys.PublicKeySize]byte
}

// DecodeQueryResponse parses a QUERY_RESPONSE payload (subtype byte
// already stripped).
func DecodeQueryResponse(body []byte) (queryResponse, error) {
	var qr queryResponse
	if len(body) < 1+relaykeys.PublicKeySize {
		return qr, errTooShort
	}
	status := body[0]
	copy(qr.target[:], body[1:1+relaykeys.PublicKeySize])
	switch status {
	case statusNotFound:
		qr.found = false
		return qr, nil
	case statusFound:
		if len(body) < 1+2*relaykeys.PublicKeySize {
			return qr, errTooShort
		}
		qr.found = true
		copy(qr.owner[:], body[1+relaykeys.PublicKeySize:1+2*relaykeys.PublicKeySize])
		return qr, nil
	default:
		return qr, errBadStatus
	}
}
