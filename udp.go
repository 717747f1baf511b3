package tapstack

import (
	"encoding/binary"
	"errors"
)

// SizeUDPHeader is the size of the UDP header preceding the payload.
const SizeUDPHeader = 8

// UDPDatagram is a decoded UDP datagram.
type UDPDatagram struct {
	SourcePort      uint16
	DestinationPort uint16
	Length          uint16
	Checksum        uint16
	Payload         []byte
}

// DecodeUDPDatagram parses buf as a UDP datagram without verifying its
// checksum; use VerifyUDPChecksum for that, since a zero received checksum
// disables verification per spec.md §3.
func DecodeUDPDatagram(buf []byte) (UDPDatagram, error) {
	if len(buf) < SizeUDPHeader {
		return UDPDatagram{}, errors.New("tapstack: udp datagram too short")
	}
	var d UDPDatagram
	d.SourcePort = binary.BigEndian.Uint16(buf[0:2])
	d.DestinationPort = binary.BigEndian.Uint16(buf[2:4])
	d.Length = binary.BigEndian.Uint16(buf[4:6])
	d.Checksum = binary.BigEndian.Uint16(buf[6:8])
	d.Payload = buf[8:]
	return d, nil
}

// VerifyUDPChecksum reports whether udpPacket (the raw, already-encoded UDP
// header+payload) is valid given the surrounding IPv4 source/destination
// addresses, per the RFC 768 pseudo-header. A zero checksum field disables
// verification and is always considered valid.
func VerifyUDPChecksum(udpPacket []byte, src, dst ProtocolAddr) bool {
	received := binary.BigEndian.Uint16(udpPacket[6:8])
	if received == 0 {
		return true
	}
	var acc Accumulator
	acc.WritePseudoHeader(src, dst, ProtoUDP, uint16(len(udpPacket)))
	clone := make([]byte, len(udpPacket))
	copy(clone, udpPacket)
	binary.BigEndian.PutUint16(clone[6:8], 0)
	acc.Write(clone)
	return acc.Sum() == received
}

// EncodeUDPDatagram builds a UDP packet (header+payload) from srcPort,
// dstPort and payload, computing the pseudo-header checksum over src/dst
// IPv4 addresses per spec.md §4.6's create_packet.
func EncodeUDPDatagram(srcPort, dstPort uint16, payload []byte, src, dst ProtocolAddr) []byte {
	out := make([]byte, SizeUDPHeader+len(payload))
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(out)))
	copy(out[8:], payload)

	var acc Accumulator
	acc.WritePseudoHeader(src, dst, ProtoUDP, uint16(len(out)))
	acc.Write(out)
	sum := acc.Sum()
	if sum == 0 {
		// An all-zero checksum collides with the "disabled" sentinel; RFC
		// 768 mandates transmitting all-ones instead.
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(out[6:8], sum)
	return out
}
