package transport

import "testing"

func TestDevTLSCertIsStable(t *testing.T) {
	certA, derA, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert failed: %v", err)
	}
	_, derB, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert failed: %v", err)
	}
	if string(derA) != string(derB) {
		t.Fatalf("expected devTLSCert to be deterministic across calls")
	}
	if len(certA.Certificate) == 0 || certA.PrivateKey == nil {
		t.Fatalf("expected a populated certificate")
	}
}

func TestServerTLSConfigHasCertAndALPN(t *testing.T) {
	conf, err := serverTLSConfig()
	if err != nil {
		t.Fatalf("serverTLSConfig failed: %v", err)
	}
	if len(conf.Certificates) != 1 {
		t.Fatalf("expected exactly one certificate")
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != alpnProto {
		t.Fatalf("unexpected ALPN protocols: %v", conf.NextProtos)
	}
}

func TestClientTLSConfigInsecureSkipsVerification(t *testing.T) {
	conf, err := clientTLSConfig(true)
	if err != nil {
		t.Fatalf("clientTLSConfig failed: %v", err)
	}
	if !conf.InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify when insecure=true")
	}
}

func TestClientTLSConfigSecurePinsDevCert(t *testing.T) {
	conf, err := clientTLSConfig(false)
	if err != nil {
		t.Fatalf("clientTLSConfig failed: %v", err)
	}
	if conf.InsecureSkipVerify {
		t.Fatalf("expected verification to be enabled when insecure=false")
	}
	if conf.RootCAs == nil {
		t.Fatalf("expected a root CA pool pinning the dev certificate")
	}
}
