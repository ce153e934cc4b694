// Package client is the relay's client-side SDK: it drives the same
// HANDSHAKE state machine the node's handshake engine implements, then
// exposes a plain Send/Recv pair over the addressee-prefixed DATA wire
// format, riding the same long-lived stream internal/transport uses on
// the server side.
package client

import (
	"context"
	"errors"
	"fmt"

	"relaynet/internal/handshake"
	"relaynet/internal/relaykeys"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

var (
	errNotAuthenticated = errors.New("client: session not authenticated")
	errShortPayload     = errors.New("client: received SIGNED_DATA payload shorter than its signature")
)

// Client is one authenticated session against a relay node.
type Client struct {
	identity *relaykeys.Identity
	conn     *transport.Conn

	authenticated bool
}

// Dial connects to addr and runs the HANDSHAKE state machine to
// completion, authenticating as a plain client (never pre-marked peer,
// since this type speaks for an end-user, not a federating node).
func Dial(ctx context.Context, addr string, identity *relaykeys.Identity, insecure bool) (*Client, error) {
	conn, err := transport.Dial(ctx, addr, insecure)
	if err != nil {
		return nil, err
	}
	c := &Client{identity: identity, conn: conn}
	if err := c.authenticate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// authenticate drives the client half of the handshake: receive the
// server's unsigned challenge, sign it, send it back, and wait for the
// 1-byte confirmation.
func (c *Client) authenticate() error {
	challengeFrame, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("client: awaiting server challenge: %w", err)
	}
	if challengeFrame.Type != wire.Handshake || len(challengeFrame.Payload) != relaykeys.ChallengeSize {
		return fmt.Errorf("client: unexpected first frame from server")
	}
	var challenge [relaykeys.ChallengeSize]byte
	copy(challenge[:], challengeFrame.Payload)

	response := handshake.BuildResponse(c.identity, challenge)
	if err := c.conn.Send(response); err != nil {
		return fmt.Errorf("client: sending challenge response: %w", err)
	}

	confirm, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("client: awaiting confirmation: %w", err)
	}
	if confirm.Type != wire.Handshake || len(confirm.Payload) != 1 || confirm.Payload[0] != 0x01 {
		return fmt.Errorf("client: server did not confirm authentication")
	}
	c.authenticated = true
	return nil
}

// Send delivers content to addressee, prefixed with its 32-byte public
// key.
func (c *Client) Send(addressee [relaykeys.PublicKeySize]byte, content []byte) error {
	if !c.authenticated {
		return errNotAuthenticated
	}
	payload := make([]byte, 0, relaykeys.PublicKeySize+len(content))
	payload = append(payload, addressee[:]...)
	payload = append(payload, content...)
	return c.conn.Send(&wire.Frame{Type: wire.Data, Payload: payload, SenderID: c.identity.Public})
}

// SendSigned delivers content to addressee as SIGNED_DATA: the payload
// carries content's signature under this client's key so the receiving
// client can verify it end-to-end; the relay never checks it.
func (c *Client) SendSigned(addressee [relaykeys.PublicKeySize]byte, content []byte) error {
	if !c.authenticated {
		return errNotAuthenticated
	}
	sig := c.identity.Sign(content)
	payload := make([]byte, 0, relaykeys.PublicKeySize+relaykeys.SignatureSize+len(content))
	payload = append(payload, addressee[:]...)
	payload = append(payload, sig[:]...)
	payload = append(payload, content...)
	return c.conn.Send(&wire.Frame{Type: wire.SignedData, Payload: payload, SenderID: c.identity.Public})
}

// Message is one delivered DATA/SIGNED_DATA frame with its addressee
// prefix already stripped by the relay.
type Message struct {
	Signed   bool
	SenderID [relaykeys.PublicKeySize]byte
	Content  []byte
	// SignerKey and Signature are populated only for SIGNED_DATA; the
	// caller must verify them, the relay does not.
	SignerKey [relaykeys.PublicKeySize]byte
	Signature [relaykeys.SignatureSize]byte
}

// Recv blocks for the next inbound frame and unwraps it into a Message.
// DATA payloads arrive with the addressee already stripped by the relay
// (content starts at byte 0); SIGNED_DATA additionally carries a
// signature this client must verify itself.
func (c *Client) Recv() (*Message, error) {
	f, err := c.conn.Recv()
	if err != nil {
		return nil, err
	}
	return unwrap(f)
}

// unwrap is Recv's pure frame-to-Message step, split out so it can be
// exercised without a live connection.
func unwrap(f *wire.Frame) (*Message, error) {
	switch f.Type {
	case wire.Data:
		return &Message{SenderID: f.SenderID, Content: f.Payload}, nil
	case wire.SignedData:
		if len(f.Payload) < relaykeys.SignatureSize {
			return nil, errShortPayload
		}
		var sig [relaykeys.SignatureSize]byte
		copy(sig[:], f.Payload[:relaykeys.SignatureSize])
		return &Message{
			Signed:    true,
			SenderID:  f.SenderID,
			SignerKey: f.SenderID,
			Signature: sig,
			Content:   f.Payload[relaykeys.SignatureSize:],
		}, nil
	default:
		return nil, fmt.Errorf("client: unexpected frame type %v", f.Type)
	}
}

// Close ends the session.
func (c *Client) Close() error { return c.conn.Close() }
