// Package transport adapts the session abstraction to QUIC: a
// self-signed dev certificate, and one long-lived bidirectional stream
// per connection carrying a continuous back-to-back run of wire.Frame
// values for the lifetime of the session.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"relaynet/internal/wire"
)

const alpnProto = "relaynet-quic"

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("relaynet-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{alpnProto}}, nil
}

func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpnProto}}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{RootCAs: pool, NextProtos: []string{alpnProto}}, nil
}

// Conn is one long-lived bidirectional session stream. It implements
// session.Stream and additionally exposes Recv for the dispatcher's read
// loop.
type Conn struct {
	qconn  *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
}

// Send serializes f and writes it to the stream.
func (c *Conn) Send(f *wire.Frame) error {
	return wire.WriteFrame(c.stream, f)
}

// Recv blocks for the next frame on the stream.
func (c *Conn) Recv() (*wire.Frame, error) {
	return wire.ReadFrame(c.stream)
}

// Close tears down the stream and its underlying connection. Safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		err = c.qconn.CloseWithError(0, "")
	})
	return err
}

// RemoteAddr describes the peer end, for logs.
func (c *Conn) RemoteAddr() string {
	return c.qconn.RemoteAddr().String()
}

// Listener accepts inbound QUIC connections and, for each, the one
// bidirectional stream the peer opens for the session's lifetime.
type Listener struct {
	ql *quic.Listener
}

// Listen binds addr and returns a Listener ready to Accept.
func Listen(addr string) (*Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ql, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	return &Listener{ql: ql}, nil
}

// Addr reports the bound local address.
func (l *Listener) Addr() net.Addr { return l.ql.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ql.Close() }

// Accept waits for the next inbound connection and its session stream.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	qconn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		_ = qconn.CloseWithError(1, "no session stream")
		return nil, err
	}
	return &Conn{qconn: qconn, stream: stream}, nil
}

// Dial opens a new QUIC connection to addr and the one bidirectional
// stream a session rides on. insecure skips certificate verification,
// for connecting to a peer whose dev certificate we don't carry.
func Dial(ctx context.Context, addr string, insecure bool) (*Conn, error) {
	tlsConf, err := clientTLSConfig(insecure)
	if err != nil {
		return nil, err
	}
	qconn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(1, "stream open failed")
		return nil, err
	}
	return &Conn{qconn: qconn, stream: stream}, nil
}

