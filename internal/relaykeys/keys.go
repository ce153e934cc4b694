// Package relaykeys holds the node's Ed25519 identity and the
// challenge/response signing primitives the handshake engine uses.
package relaykeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

const (
	PublicKeySize  = ed25519.PublicKeySize  // 32
	SignatureSize  = ed25519.SignatureSize  // 64
	ChallengeSize  = 32
)

// Identity is a node or client's long-lived signing keypair.
type Identity struct {
	Public  [PublicKeySize]byte
	private ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair. Nothing is persisted: node
// identity is regenerated every process start per the no-persisted-state
// requirement.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	id := &Identity{private: priv}
	copy(id.Public[:], pub)
	return id, nil
}

// Sign signs digest (here, always a handshake challenge) with the
// identity's private key.
func (id *Identity) Sign(digest []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(id.private, digest))
	return sig
}

// Verify checks sig over digest against the 32-byte public key pub.
func Verify(pub [PublicKeySize]byte, digest []byte, sig [SignatureSize]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), digest, sig[:])
}

// RandomChallenge returns ChallengeSize cryptographically random bytes.
func RandomChallenge() ([ChallengeSize]byte, error) {
	var c [ChallengeSize]byte
	if _, err := rand.Read(c[:]); err != nil {
		return c, err
	}
	return c, nil
}

// Hex renders a public key as the 64-lowercase-character canonical
// string identifier.
func Hex(pub [PublicKeySize]byte) string {
	return hex.EncodeToString(pub[:])
}

// ParseHex parses a canonical hex identifier back into a public key.
func ParseHex(s string) ([PublicKeySize]byte, error) {
	var pub [PublicKeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return pub, err
	}
	if len(b) != PublicKeySize {
		return pub, errors.New("relaykeys: wrong public key length")
	}
	copy(pub[:], b)
	return pub, nil
}
