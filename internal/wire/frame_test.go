package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{Type: Data, Payload: []byte("hello world")}
	f.SenderID[0] = 0xAB
	f.Signature[63] = 0xCD

	buf := Encode(f)
	if len(buf) != HeaderSize+len(f.Payload) {
		t.Fatalf("encoded length = %d, want %d", len(buf), HeaderSize+len(f.Payload))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != f.Type {
		t.Fatalf("type = %v, want %v", got.Type, f.Type)
	}
	if got.SenderID != f.SenderID {
		t.Fatalf("sender_id mismatch")
	}
	if got.Signature != f.Signature {
		t.Fatalf("signature mismatch")
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, f.Payload)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	f := &Frame{Type: Handshake, Payload: []byte("x")}
	buf := Encode(f)
	buf[0] = 0x00
	if _, err := Decode(buf); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrShortBuffer {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	f := &Frame{Type: Data, Payload: []byte("12345")}
	buf := Encode(f)
	buf = buf[:len(buf)-2]
	if _, err := Decode(buf); err != ErrShortPayload {
		t.Fatalf("err = %v, want ErrShortPayload", err)
	}
}

func TestSignedDetection(t *testing.T) {
	f := &Frame{Type: Handshake}
	if f.Signed() {
		t.Fatalf("zero signature reported as signed")
	}
	f.Signature[10] = 1
	if !f.Signed() {
		t.Fatalf("non-zero signature reported as unsigned")
	}
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Type: NodeInfo, Payload: []byte{0x02}}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFrameTypeString(t *testing.T) {
	cases := map[FrameType]string{
		Handshake:       "HANDSHAKE",
		Data:            "DATA",
		NodeInfo:        "NODE_INFO",
		SignedData:      "SIGNED_DATA",
		FrameType(0xFF): "UNKNOWN",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("FrameType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
