package crawl

import (
	"bytes"
	"encoding/binary"
)

// pngSignature is the fixed 8-byte prefix of every PNG file.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// pngDimensions reads the width and height from a PNG byte stream without an
// imaging dependency. The IHDR chunk directly follows the signature:
// [length:4][type:4][width:4][height:4]..., both dimensions big-endian.
// Returns ok=false for anything that is not a structurally valid PNG header.
func pngDimensions(data []byte) (width, height int, ok bool) {
	const ihdrDataOffset = 16 // 8-byte signature + 4-byte length + 4-byte "IHDR"

	if len(data) < ihdrDataOffset+8 {
		return 0, 0, false
	}
	if !bytes.Equal(data[:8], pngSignature) {
		return 0, 0, false
	}

	width = int(binary.BigEndian.Uint32(data[ihdrDataOffset : ihdrDataOffset+4]))
	height = int(binary.BigEndian.Uint32(data[ihdrDataOffset+4 : ihdrDataOffset+8]))
	return width, height, true
}
