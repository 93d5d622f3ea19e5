package hub

import (
	"encoding/binary"

	"github.com/fusetim/ipcanvas/internal/canvas"
)

// WireVersion is the only frame version this hub emits.
const WireVersion = 0x01

// recordSize is the width, in bytes, of one encoded pixel: x uint16, y
// uint16, r, g, b uint8, all big-endian.
const recordSize = 7

// EncodeDiff serializes a diff into one binary WebSocket frame: a
// version byte, a big-endian uint32 pixel count, then one
// recordSize-byte record per pixel in diff's order.
func EncodeDiff(diff []canvas.Pixel) []byte {
	out := make([]byte, 1+4+len(diff)*recordSize)
	out[0] = WireVersion
	binary.BigEndian.PutUint32(out[1:5], uint32(len(diff)))

	offset := 5
	for _, p := range diff {
		binary.BigEndian.PutUint16(out[offset:offset+2], p.X)
		binary.BigEndian.PutUint16(out[offset+2:offset+4], p.Y)
		out[offset+4] = p.Color.R
		out[offset+5] = p.Color.G
		out[offset+6] = p.Color.B
		offset += recordSize
	}
	return out
}
