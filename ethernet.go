package tapstack

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	// SizeEthernetHeader is the size in bytes of an Ethernet II header with
	// no 802.1Q VLAN tag.
	SizeEthernetHeader = 14
	// MinFrameSize is the smallest buffer DecodeEthernetFrame accepts.
	MinFrameSize = SizeEthernetHeader
)

// EtherType identifies the protocol encapsulated in an Ethernet frame's
// payload.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

// HwAddr is a 6 byte hardware (MAC) address.
type HwAddr [6]byte

// Broadcast is the link-layer broadcast address, the destination used for
// ARP requests.
var Broadcast = HwAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a HwAddr) String() string { return net.HardwareAddr(a[:]).String() }

// IsZero reports whether a is the zero-value hardware address.
func (a HwAddr) IsZero() bool { return a == HwAddr{} }

// ProtocolAddr is a 4 byte IPv4 address.
type ProtocolAddr [4]byte

func (a ProtocolAddr) String() string { return net.IP(a[:]).String() }

// EthernetFrame is a decoded view over an Ethernet II frame. The Payload
// slice aliases the buffer passed to DecodeEthernetFrame; the frame must be
// treated as immutable for as long as any EthernetFrame value derived from
// it is in use.
type EthernetFrame struct {
	Destination HwAddr
	Source      HwAddr
	EtherType   EtherType
	Payload     []byte
}

// DecodeEthernetFrame decodes an Ethernet II frame from buf. buf must be at
// least SizeEthernetHeader bytes; VLAN-tagged frames (EtherType 0x8100) are
// rejected since this stack never negotiates a VLAN-aware link.
func DecodeEthernetFrame(buf []byte) (EthernetFrame, error) {
	if len(buf) < SizeEthernetHeader {
		return EthernetFrame{}, errors.New("tapstack: frame shorter than ethernet header")
	}
	var f EthernetFrame
	copy(f.Destination[:], buf[0:6])
	copy(f.Source[:], buf[6:12])
	f.EtherType = EtherType(binary.BigEndian.Uint16(buf[12:14]))
	if f.EtherType == 0x8100 {
		return EthernetFrame{}, errors.New("tapstack: VLAN tagged frames not supported")
	}
	f.Payload = buf[SizeEthernetHeader:]
	return f, nil
}

// EncodeEthernetFrame writes dst, src, etherType and payload into buf,
// returning the number of bytes written. buf must have length at least
// SizeEthernetHeader+len(payload).
func EncodeEthernetFrame(buf []byte, dst, src HwAddr, etherType EtherType, payload []byte) int {
	_ = buf[SizeEthernetHeader+len(payload)-1]
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(etherType))
	copy(buf[SizeEthernetHeader:], payload)
	return SizeEthernetHeader + len(payload)
}
