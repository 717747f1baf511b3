package tapstack

import (
	"encoding/binary"
	"errors"
)

// ICMP message types this stack recognizes on the wire. Only EchoRequest is
// acted upon; all others are decoded far enough to be logged and dropped.
const (
	ICMPTypeEchoReply   = 0
	ICMPTypeEchoRequest = 8
)

// SizeICMPHeader is the size of the fixed ICMP header (type, code, checksum,
// 4 bytes of type-specific data) preceding the payload.
const SizeICMPHeader = 8

// ICMPMessage is a decoded ICMP message. HeaderData holds the 4 bytes whose
// meaning is type-dependent (identifier+sequence, for Echo).
type ICMPMessage struct {
	Type       uint8
	Code       uint8
	Checksum   uint16
	HeaderData [4]byte
	Payload    []byte
}

// DecodeICMPMessage parses buf as an ICMP message and verifies its checksum.
// A checksum mismatch is reported as an error so the caller can drop the
// packet per spec.md §4.5.
func DecodeICMPMessage(buf []byte) (ICMPMessage, error) {
	if len(buf) < SizeICMPHeader {
		return ICMPMessage{}, errors.New("tapstack: icmp message too short")
	}
	computed, current := ComputeIPChecksum(buf, [2]int{2, 4})
	if computed != current {
		return ICMPMessage{}, errors.New("tapstack: icmp checksum mismatch")
	}
	var m ICMPMessage
	m.Type = buf[0]
	m.Code = buf[1]
	m.Checksum = current
	copy(m.HeaderData[:], buf[4:8])
	m.Payload = buf[8:]
	return m, nil
}

// Encode marshals m into a freshly computed, checksummed byte slice.
func (m *ICMPMessage) Encode() []byte {
	out := make([]byte, SizeICMPHeader+len(m.Payload))
	out[0] = m.Type
	out[1] = m.Code
	copy(out[4:8], m.HeaderData[:])
	copy(out[8:], m.Payload)
	computed, _ := ComputeIPChecksum(out, [2]int{2, 4})
	m.Checksum = computed
	binary.BigEndian.PutUint16(out[2:4], computed)
	return out
}

// BuildEchoReply synthesizes the Echo Reply to req, mirroring its
// identifier/sequence (HeaderData) and payload, per spec.md §4.5.
func BuildEchoReply(req ICMPMessage) ICMPMessage {
	return ICMPMessage{
		Type:       ICMPTypeEchoReply,
		Code:       0,
		HeaderData: req.HeaderData,
		Payload:    req.Payload,
	}
}
