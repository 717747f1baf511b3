package tapstack

import (
	"encoding/binary"
	"errors"
)

// SizeIPHeader is the size of an IPv4 header with no options (IHL==5), the
// only form this stack emits or accepts on decode.
const SizeIPHeader = 20

// IP protocol numbers this stack is aware of. TCP is detected only to be
// dropped: full TCP decoding is explicitly out of scope (spec.md §1).
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// DefaultTTL is the TTL this stack stamps on every packet it originates.
const DefaultTTL = 50

// IPFlags packs the 3 flag bits and 13 bit fragment offset of an IPv4
// header into their wire-order 16 bits.
type IPFlags uint16

const (
	ipFlagDontFragment  = 0x4000
	ipFlagMoreFragments = 0x2000
)

func (f IPFlags) DontFragment() bool     { return f&ipFlagDontFragment != 0 }
func (f IPFlags) MoreFragments() bool    { return f&ipFlagMoreFragments != 0 }
func (f IPFlags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

// IPv4Header is a decoded IPv4 header, assuming IHL==5 (no options).
type IPv4Header struct {
	Version     uint8
	IHL         uint8
	DSCPECN     uint8
	TotalLength uint16
	ID          uint16
	Flags       IPFlags
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	Source      ProtocolAddr
	Destination ProtocolAddr
}

// DecodeIPv4Header decodes the fixed 20-byte IPv4 header from buf by fixed
// offsets, assuming IHL==5. Headers carrying IP options are not supported:
// callers should check IHL==5 if they need to reject such packets.
func DecodeIPv4Header(buf []byte) (IPv4Header, error) {
	if len(buf) < SizeIPHeader {
		return IPv4Header{}, errors.New("tapstack: buffer too short for ipv4 header")
	}
	var h IPv4Header
	h.Version = GetBits(buf[0], 4, 8)
	h.IHL = GetBits(buf[0], 0, 4)
	h.DSCPECN = buf[1]
	h.TotalLength = binary.BigEndian.Uint16(buf[2:4])
	h.ID = binary.BigEndian.Uint16(buf[4:6])
	h.Flags = IPFlags(binary.BigEndian.Uint16(buf[6:8]))
	h.TTL = buf[8]
	h.Protocol = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])
	copy(h.Source[:], buf[12:16])
	copy(h.Destination[:], buf[16:20])
	return h, nil
}

// Put marshals h onto buf (at least SizeIPHeader bytes), recomputing and
// patching in the header checksum over the freshly written bytes.
func (h *IPv4Header) Put(buf []byte) {
	_ = buf[SizeIPHeader-1]
	buf[0] = h.Version<<4 | h.IHL
	buf[1] = h.DSCPECN
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Flags))
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0)
	copy(buf[12:16], h.Source[:])
	copy(buf[16:20], h.Destination[:])
	computed, _ := ComputeIPChecksum(buf[:SizeIPHeader], [2]int{10, 12})
	h.Checksum = computed
	binary.BigEndian.PutUint16(buf[10:12], computed)
}

// VerifyChecksum reports whether the header checksum embedded in buf (a raw,
// already-encoded IPv4 header) matches the computed one's complement sum.
func VerifyChecksum(buf []byte) bool {
	computed, current := ComputeIPChecksum(buf[:SizeIPHeader], [2]int{10, 12})
	return computed == current
}

// MakeUnfragmentedIPHeader builds the egress IPv4 header template described
// in spec.md §4.4: IHL=5, version=4, ID=0, flags/fragment-offset=0,
// TTL=DefaultTTL, total length = SizeIPHeader+len(payload).
func MakeUnfragmentedIPHeader(src, dst ProtocolAddr, protocol uint8, payloadLen uint16) IPv4Header {
	return IPv4Header{
		Version:     4,
		IHL:         5,
		TotalLength: SizeIPHeader + payloadLen,
		TTL:         DefaultTTL,
		Protocol:    protocol,
		Source:      src,
		Destination: dst,
	}
}
