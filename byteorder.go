package tapstack

import "encoding/binary"

// Ntohs converts a 16 bit value from network (big-endian) byte order to the
// host's native representation. On Go, which always exposes integers in
// host-native form, this is just a big-endian decode.
func Ntohs(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// Htons encodes v in network byte order into a fresh 2-byte array.
func Htons(v uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b
}

// Ntohl converts a 32 bit value from network byte order.
func Ntohl(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// GetBits extracts bits [lo, hi) from byte b and right-aligns the result.
// Bits are numbered LSB-0: bit 0 is the least significant bit of b.
//
//	GetBits(0b11110000, 0, 4) == 0
//	GetBits(0b11110000, 4, 8) == 15
//	GetBits(0b10100110, 1, 3) == 3
func GetBits(b byte, lo, hi uint8) uint8 {
	width := hi - lo
	mask := byte(1<<width-1) << lo
	return (b & mask) >> lo
}
