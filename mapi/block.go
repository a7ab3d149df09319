// Package mapi decodes the MAPI block protocol: length-prefixed blocks
// grouped into messages, a 2-byte little-endian header per block holding
// a 15-bit payload length and the final-block flag in the low bit.
package mapi

import "encoding/binary"

const (
	// headerLen is the size of a block header on the wire.
	headerLen = 2
	// lastFlag marks the final block of a message.
	lastFlag = 0x0001
	// MaxPayload is the largest payload a single block can carry.
	MaxPayload = 0x7FFF
)

// DecodeHeader splits a block header into payload length and final flag.
func DecodeHeader(hdr [2]byte) (length int, final bool) {
	v := binary.LittleEndian.Uint16(hdr[:])
	return int(v >> 1), v&lastFlag != 0
}

// EncodeHeader packs payload length and final flag into a block header.
// The length must be in [0, MaxPayload].
func EncodeHeader(length int, final bool) [2]byte {
	v := uint16(length) << 1
	if final {
		v |= lastFlag
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], v)
	return hdr
}
