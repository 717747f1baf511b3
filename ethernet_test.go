package tapstack_test

import (
	"bytes"
	"testing"

	"github.com/vela-net/tapstack"
)

func TestEthernetFrameRoundTrip(t *testing.T) {
	dst := tapstack.HwAddr{1, 2, 3, 4, 5, 6}
	src := tapstack.HwAddr{0xa, 0xb, 0xc, 0xd, 0xe, 0xf}
	payload := []byte("ping")

	buf := make([]byte, tapstack.SizeEthernetHeader+len(payload))
	n := tapstack.EncodeEthernetFrame(buf, dst, src, tapstack.EtherTypeIPv4, payload)
	if n != len(buf) {
		t.Fatalf("EncodeEthernetFrame returned %d, want %d", n, len(buf))
	}

	f, err := tapstack.DecodeEthernetFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if f.Destination != dst || f.Source != src || f.EtherType != tapstack.EtherTypeIPv4 {
		t.Fatalf("decoded header mismatch: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload = %q, want %q", f.Payload, payload)
	}
}

func TestDecodeEthernetFrameRejectsShortBuffer(t *testing.T) {
	_, err := tapstack.DecodeEthernetFrame(make([]byte, 13))
	if err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestDecodeEthernetFrameRejectsVLAN(t *testing.T) {
	buf := make([]byte, 18)
	buf[12], buf[13] = 0x81, 0x00
	_, err := tapstack.DecodeEthernetFrame(buf)
	if err == nil {
		t.Fatal("expected error for VLAN-tagged frame")
	}
}
