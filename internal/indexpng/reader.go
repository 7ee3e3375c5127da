package indexpng

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/pspoerri/pngquant/internal/palette"
)

const maxInspectPixels = 1 << 28

// ErrMalformed is returned when a stream breaks PNG framing or ordering rules.
var ErrMalformed = errors.New("malformed PNG")

// Chunk is one framed PNG chunk.
type Chunk struct {
	Type string
	Data []byte
	CRC  uint32
}

// ReadChunks parses a PNG stream up to and including IEND, verifying the
// signature, every chunk length and every CRC.
func ReadChunks(r io.Reader) ([]Chunk, error) {
	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	if string(sig) != Signature {
		return nil, fmt.Errorf("%w: bad signature %x", ErrMalformed, sig)
	}

	var chunks []Chunk
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return chunks, fmt.Errorf("reading chunk %d header: %w", len(chunks), err)
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		if length > MaxDimension {
			return chunks, fmt.Errorf("%w: chunk %d length %d", ErrMalformed, len(chunks), length)
		}
		typ := string(hdr[4:8])

		var body bytes.Buffer
		if _, err := io.CopyN(&body, r, int64(length)); err != nil {
			return chunks, fmt.Errorf("reading %s data: %w", typ, err)
		}
		data := body.Bytes()
		var ftr [4]byte
		if _, err := io.ReadFull(r, ftr[:]); err != nil {
			return chunks, fmt.Errorf("reading %s CRC: %w", typ, err)
		}

		crc := crc32.NewIEEE()
		crc.Write(hdr[4:8])
		crc.Write(data)
		want := binary.BigEndian.Uint32(ftr[:])
		if got := crc.Sum32(); got != want {
			return chunks, fmt.Errorf("%w: %s CRC %08x, computed %08x", ErrMalformed, typ, want, got)
		}

		chunks = append(chunks, Chunk{Type: typ, Data: data, CRC: want})
		if typ == TypeIEND {
			return chunks, nil
		}
	}
}

// Info summarizes the structure of a PNG file.
type Info struct {
	Header Header
	// PaletteEntries is the number of PLTE entries, 0 without PLTE.
	PaletteEntries int
	// TransparencyEntries is the tRNS payload size, -1 without tRNS.
	TransparencyEntries int
	IDATChunks          int
	IDATBytes           int
	Chunks              []Chunk
}

// HasTransparency reports whether the file carries a tRNS chunk.
func (info *Info) HasTransparency() bool { return info.TransparencyEntries >= 0 }

// Order returns the chunk types in file order.
func (info *Info) Order() []string {
	out := make([]string, len(info.Chunks))
	for i, c := range info.Chunks {
		out[i] = c.Type
	}
	return out
}

// Inspect parses data and checks the chunk ordering rules: IHDR first,
// PLTE before tRNS, both before the first IDAT, IDAT chunks consecutive,
// IEND last. For indexed images PLTE is mandatory and tRNS may not have more
// entries than PLTE.
func Inspect(data []byte) (*Info, error) {
	chunks, err := ReadChunks(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	info := &Info{TransparencyEntries: -1, Chunks: chunks}

	if chunks[0].Type != TypeIHDR {
		return nil, fmt.Errorf("%w: first chunk is %s", ErrMalformed, chunks[0].Type)
	}
	if info.Header, err = DeserializeHeader(chunks[0].Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	idatDone := false
	for i, c := range chunks[1:] {
		switch c.Type {
		case TypeIHDR:
			return nil, fmt.Errorf("%w: duplicate IHDR at chunk %d", ErrMalformed, i+1)
		case TypePLTE:
			if info.PaletteEntries > 0 || info.IDATChunks > 0 || info.HasTransparency() {
				return nil, fmt.Errorf("%w: PLTE out of order at chunk %d", ErrMalformed, i+1)
			}
			if len(c.Data) == 0 || len(c.Data)%3 != 0 || len(c.Data) > 3*256 {
				return nil, fmt.Errorf("%w: PLTE has %d bytes", ErrMalformed, len(c.Data))
			}
			info.PaletteEntries = len(c.Data) / 3
		case TypeTRNS:
			if info.IDATChunks > 0 || info.HasTransparency() {
				return nil, fmt.Errorf("%w: tRNS out of order at chunk %d", ErrMalformed, i+1)
			}
			info.TransparencyEntries = len(c.Data)
		case TypeIDAT:
			if idatDone {
				return nil, fmt.Errorf("%w: IDAT chunks are not consecutive", ErrMalformed)
			}
			info.IDATChunks++
			info.IDATBytes += len(c.Data)
		default:
			if info.IDATChunks > 0 {
				idatDone = true
			}
		}
	}

	if info.IDATChunks == 0 {
		return nil, fmt.Errorf("%w: no IDAT chunk", ErrMalformed)
	}
	if info.Header.ColorType == ColorTypeIndexed {
		if info.PaletteEntries == 0 {
			return nil, fmt.Errorf("%w: indexed image without PLTE", ErrMalformed)
		}
		if info.TransparencyEntries > info.PaletteEntries {
			return nil, fmt.Errorf("%w: tRNS has %d entries for %d palette entries",
				ErrMalformed, info.TransparencyEntries, info.PaletteEntries)
		}
	}
	return info, nil
}

// Tables rebuilds the palette tables from the PLTE and tRNS chunks. Entries
// missing from a short tRNS are opaque.
func (info *Info) Tables() (palette.Tables, error) {
	var t palette.Tables
	for _, c := range info.Chunks {
		switch c.Type {
		case TypePLTE:
			t.RGB = append([]byte(nil), c.Data...)
		case TypeTRNS:
			t.Alpha = append([]byte(nil), c.Data...)
		}
	}
	if len(t.RGB) == 0 {
		return t, fmt.Errorf("%w: no PLTE chunk", ErrMalformed)
	}
	n := len(t.RGB) / 3
	if len(t.Alpha) > n {
		return t, fmt.Errorf("%w: tRNS has %d entries for %d palette entries", ErrMalformed, len(t.Alpha), n)
	}
	t.HasTransparency = info.HasTransparency()
	for len(t.Alpha) < n {
		t.Alpha = append(t.Alpha, 0xff)
	}
	return t, nil
}

// Indices inflates and unfilters the IDAT stream of an 8-bit, non-interlaced
// indexed image and returns its index plane.
func (info *Info) Indices() ([]byte, error) {
	h := info.Header
	if h.ColorType != ColorTypeIndexed || h.BitDepth != 8 || h.InterlaceMethod != 0 {
		return nil, fmt.Errorf("unsupported layout: %s, depth %d, interlace %d",
			ColorTypeName(h.ColorType), h.BitDepth, h.InterlaceMethod)
	}

	var idat bytes.Buffer
	for _, c := range info.Chunks {
		if c.Type == TypeIDAT {
			idat.Write(c.Data)
		}
	}
	zr, err := zlib.NewReader(&idat)
	if err != nil {
		return nil, fmt.Errorf("opening zlib stream: %w", err)
	}
	defer zr.Close()

	if uint64(h.Width)*uint64(h.Height) > maxInspectPixels {
		return nil, fmt.Errorf("image too large to inspect: %dx%d", h.Width, h.Height)
	}
	w, rows := int(h.Width), int(h.Height)
	pix := make([]byte, w*rows)
	cur := make([]byte, w+1)
	prev := make([]byte, w)
	for y := 0; y < rows; y++ {
		if _, err := io.ReadFull(zr, cur); err != nil {
			return nil, fmt.Errorf("reading row %d: %w", y, err)
		}
		if err := unfilter(cur[0], cur[1:], prev); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		copy(pix[y*w:], cur[1:])
		copy(prev, cur[1:])
	}
	return pix, nil
}

// unfilter reverses a scanline filter for one byte per pixel.
func unfilter(ft byte, cur, prev []byte) error {
	switch ft {
	case 0:
	case 1:
		for i := 1; i < len(cur); i++ {
			cur[i] += cur[i-1]
		}
	case 2:
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3:
		for i := range cur {
			var left int
			if i > 0 {
				left = int(cur[i-1])
			}
			cur[i] += uint8((left + int(prev[i])) / 2)
		}
	case 4:
		for i := range cur {
			var a, c int
			if i > 0 {
				a, c = int(cur[i-1]), int(prev[i-1])
			}
			cur[i] += paeth(a, int(prev[i]), c)
		}
	default:
		return fmt.Errorf("%w: filter type %d", ErrMalformed, ft)
	}
	return nil
}

func paeth(a, b, c int) uint8 {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return uint8(a)
	}
	if pb <= pc {
		return uint8(b)
	}
	return uint8(c)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
