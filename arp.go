package tapstack

import (
	"encoding/binary"
	"errors"
)

// ARPOpcode enumerates the ARP operations this stack understands. Every
// other opcode value is rejected by DecodeARPPacket as unimplemented.
type ARPOpcode uint16

const (
	ARPRequest ARPOpcode = 1
	ARPReply   ARPOpcode = 2
)

// SizeARPv4Header is the wire size of an ARP packet resolving 4-byte
// protocol addresses to 6-byte hardware addresses (the only combination
// this stack emits or accepts).
const SizeARPv4Header = 28

// ARPPacket is a decoded ARP message. All field offsets are derived from
// HardwareLen/ProtoLen at decode time; this stack only accepts
// HardwareLen==6, ProtoLen==4 (Ethernet-over-IPv4), rejecting anything else
// as malformed.
type ARPPacket struct {
	HardwareType uint16
	ProtoType    uint16
	HardwareLen  uint8
	ProtoLen     uint8
	Operation    ARPOpcode
	SenderHW     HwAddr
	SenderProto  ProtocolAddr
	TargetHW     HwAddr
	TargetProto  ProtocolAddr
}

// DecodeARPPacket parses buf as an ARPv4-over-Ethernet packet. It rejects
// malformed hardware/protocol address lengths and unimplemented opcodes, per
// spec.
func DecodeARPPacket(buf []byte) (ARPPacket, error) {
	if len(buf) < SizeARPv4Header {
		return ARPPacket{}, errors.New("tapstack: arp packet too short")
	}
	var p ARPPacket
	p.HardwareType = binary.BigEndian.Uint16(buf[0:2])
	p.ProtoType = binary.BigEndian.Uint16(buf[2:4])
	p.HardwareLen = buf[4]
	p.ProtoLen = buf[5]
	if p.HardwareLen != 6 || p.ProtoLen != 4 {
		return ARPPacket{}, errors.New("tapstack: unsupported arp address lengths")
	}
	op := ARPOpcode(binary.BigEndian.Uint16(buf[6:8]))
	if op != ARPRequest && op != ARPReply {
		return ARPPacket{}, errors.New("tapstack: unimplemented arp opcode")
	}
	p.Operation = op
	copy(p.SenderHW[:], buf[8:14])
	copy(p.SenderProto[:], buf[14:18])
	copy(p.TargetHW[:], buf[18:24])
	copy(p.TargetProto[:], buf[24:28])
	return p, nil
}

// Put marshals p onto buf, which must be at least SizeARPv4Header bytes.
func (p *ARPPacket) Put(buf []byte) {
	_ = buf[SizeARPv4Header-1]
	binary.BigEndian.PutUint16(buf[0:2], p.HardwareType)
	binary.BigEndian.PutUint16(buf[2:4], p.ProtoType)
	buf[4] = p.HardwareLen
	buf[5] = p.ProtoLen
	binary.BigEndian.PutUint16(buf[6:8], uint16(p.Operation))
	copy(buf[8:14], p.SenderHW[:])
	copy(buf[14:18], p.SenderProto[:])
	copy(buf[18:24], p.TargetHW[:])
	copy(buf[24:28], p.TargetProto[:])
}

// BuildARPRequest constructs a 28-byte "who has target? tell sender" ARPv4
// request packet.
func BuildARPRequest(target ProtocolAddr, senderHW HwAddr, senderProto ProtocolAddr) ARPPacket {
	return ARPPacket{
		HardwareType: 1,
		ProtoType:    uint16(EtherTypeIPv4),
		HardwareLen:  6,
		ProtoLen:     4,
		Operation:    ARPRequest,
		SenderHW:     senderHW,
		SenderProto:  senderProto,
		TargetHW:     Broadcast,
		TargetProto:  target,
	}
}

// BuildARPReply constructs the reply to req, as if it were received by a
// host with hardware address localHW: sender/target protocol addresses are
// swapped and localHW fills the sender hardware address field.
func BuildARPReply(req ARPPacket, localHW HwAddr) ARPPacket {
	return ARPPacket{
		HardwareType: req.HardwareType,
		ProtoType:    req.ProtoType,
		HardwareLen:  req.HardwareLen,
		ProtoLen:     req.ProtoLen,
		Operation:    ARPReply,
		SenderHW:     localHW,
		SenderProto:  req.TargetProto,
		TargetHW:     req.SenderHW,
		TargetProto:  req.SenderProto,
	}
}
