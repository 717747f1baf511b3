package tapstack_test

import (
	"bytes"
	"testing"

	"github.com/vela-net/tapstack"
)

// Scenario 2 from spec.md §8: an Echo Request with payload "ping" produces
// a valid Echo Reply mirroring identifier/sequence and payload.
func TestEchoReplyRoundTrip(t *testing.T) {
	req := tapstack.ICMPMessage{
		Type:       tapstack.ICMPTypeEchoRequest,
		Code:       0,
		HeaderData: [4]byte{0x00, 0x01, 0x00, 0x2a},
		Payload:    []byte("ping"),
	}
	encodedReq := req.Encode()

	decodedReq, err := tapstack.DecodeICMPMessage(encodedReq)
	if err != nil {
		t.Fatal(err)
	}

	reply := tapstack.BuildEchoReply(decodedReq)
	encodedReply := reply.Encode()

	decodedReply, err := tapstack.DecodeICMPMessage(encodedReply)
	if err != nil {
		t.Fatal(err)
	}
	if decodedReply.Type != tapstack.ICMPTypeEchoReply || decodedReply.Code != 0 {
		t.Fatalf("unexpected reply type/code: %d/%d", decodedReply.Type, decodedReply.Code)
	}
	if decodedReply.HeaderData != req.HeaderData {
		t.Error("expected reply to mirror the request's identifier/sequence")
	}
	if !bytes.Equal(decodedReply.Payload, []byte("ping")) {
		t.Errorf("payload = %q, want %q", decodedReply.Payload, "ping")
	}
}

func TestDecodeICMPMessageRejectsBadChecksum(t *testing.T) {
	msg := tapstack.ICMPMessage{Type: tapstack.ICMPTypeEchoRequest, Payload: []byte("x")}
	buf := msg.Encode()
	buf[len(buf)-1] ^= 0xff // corrupt payload after checksum computed
	if _, err := tapstack.DecodeICMPMessage(buf); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
