package client

import (
	"testing"

	"relaynet/internal/relaykeys"
	"relaynet/internal/wire"
)

func TestUnwrapData(t *testing.T) {
	var sender [relaykeys.PublicKeySize]byte
	sender[0] = 0x01
	f := &wire.Frame{Type: wire.Data, Payload: []byte("hi"), SenderID: sender}
	msg, err := unwrap(f)
	if err != nil {
		t.Fatalf("unwrap failed: %v", err)
	}
	if msg.Signed || msg.SenderID != sender || string(msg.Content) != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestUnwrapSignedData(t *testing.T) {
	var sender [relaykeys.PublicKeySize]byte
	sender[1] = 0x02
	var sig [relaykeys.SignatureSize]byte
	sig[0] = 0xAB
	payload := append(append([]byte{}, sig[:]...), []byte("content")...)
	f := &wire.Frame{Type: wire.SignedData, Payload: payload, SenderID: sender}

	msg, err := unwrap(f)
	if err != nil {
		t.Fatalf("unwrap failed: %v", err)
	}
	if !msg.Signed || msg.SignerKey != sender || msg.Signature != sig || string(msg.Content) != "content" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestUnwrapSignedDataTooShort(t *testing.T) {
	f := &wire.Frame{Type: wire.SignedData, Payload: []byte("short")}
	if _, err := unwrap(f); err == nil {
		t.Fatalf("expected error for payload shorter than a signature")
	}
}

func TestUnwrapUnexpectedType(t *testing.T) {
	f := &wire.Frame{Type: wire.Handshake, Payload: []byte("x")}
	if _, err := unwrap(f); err == nil {
		t.Fatalf("expected error for non-DATA frame type")
	}
}

func TestSendBeforeAuthenticationErrors(t *testing.T) {
	identity, err := relaykeys.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	c := &Client{identity: identity}
	var addressee [relaykeys.PublicKeySize]byte
	if err := c.Send(addressee, []byte("hi")); err != errNotAuthenticated {
		t.Fatalf("expected errNotAuthenticated, got %v", err)
	}
	if err := c.SendSigned(addressee, []byte("hi")); err != errNotAuthenticated {
		t.Fatalf("expected errNotAuthenticated, got %v", err)
	}
}

func TestSignedPayloadLayoutMatchesSignature(t *testing.T) {
	identity, err := relaykeys.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	content := []byte("end to end")
	sig := identity.Sign(content)
	if !relaykeys.Verify(identity.Public, content, sig) {
		t.Fatalf("expected signature produced the same way SendSigned does to verify")
	}
}
