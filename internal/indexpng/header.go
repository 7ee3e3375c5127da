package indexpng

import (
	"encoding/binary"
	"fmt"
)

// PNG constants used by the indexed writer.
const (
	Signature  = "\x89PNG\r\n\x1a\n"
	HeaderSize = 13

	ColorTypeGray      = 0
	ColorTypeRGB       = 2
	ColorTypeIndexed   = 3
	ColorTypeGrayAlpha = 4
	ColorTypeRGBA      = 6

	FilterNone = 0

	// MaxDimension is the largest width or height a PNG can declare.
	MaxDimension = 1<<31 - 1
)

// Chunk type names.
const (
	TypeIHDR = "IHDR"
	TypePLTE = "PLTE"
	TypeTRNS = "tRNS"
	TypeIDAT = "IDAT"
	TypeIEND = "IEND"
)

// Header represents the 13-byte IHDR payload.
type Header struct {
	Width             uint32
	Height            uint32
	BitDepth          uint8
	ColorType         uint8
	CompressionMethod uint8
	FilterMethod      uint8
	InterlaceMethod   uint8
}

// NewHeader creates the header of an 8-bit, non-interlaced indexed image.
func NewHeader(width, height int) Header {
	return Header{
		Width:     uint32(width),
		Height:    uint32(height),
		BitDepth:  8,
		ColorType: ColorTypeIndexed,
	}
}

// Serialize writes the 13-byte IHDR payload.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Width)
	binary.BigEndian.PutUint32(buf[4:8], h.Height)
	buf[8] = h.BitDepth
	buf[9] = h.ColorType
	buf[10] = h.CompressionMethod
	buf[11] = h.FilterMethod
	buf[12] = h.InterlaceMethod
	return buf
}

// DeserializeHeader parses an IHDR payload.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("IHDR is %d bytes, want %d", len(buf), HeaderSize)
	}
	h := Header{
		Width:             binary.BigEndian.Uint32(buf[0:4]),
		Height:            binary.BigEndian.Uint32(buf[4:8]),
		BitDepth:          buf[8],
		ColorType:         buf[9],
		CompressionMethod: buf[10],
		FilterMethod:      buf[11],
		InterlaceMethod:   buf[12],
	}
	if h.Width == 0 || h.Height == 0 || h.Width > MaxDimension || h.Height > MaxDimension {
		return h, fmt.Errorf("invalid dimensions %dx%d", h.Width, h.Height)
	}
	return h, nil
}

// ColorTypeName returns a readable name for a PNG color type.
func ColorTypeName(ct uint8) string {
	switch ct {
	case ColorTypeGray:
		return "grayscale"
	case ColorTypeRGB:
		return "truecolor"
	case ColorTypeIndexed:
		return "indexed"
	case ColorTypeGrayAlpha:
		return "grayscale+alpha"
	case ColorTypeRGBA:
		return "truecolor+alpha"
	default:
		return fmt.Sprintf("unknown(%d)", ct)
	}
}
