// Package indexpng assembles and inspects 8-bit indexed-color PNG streams.
package indexpng

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/pspoerri/pngquant/internal/palette"
)

// MaxIDATSize is the largest payload written into a single IDAT chunk.
const MaxIDATSize = 1 << 16

// ErrInvalidImage is returned when an Image violates the indexed PNG
// constraints. Nothing is written in that case.
var ErrInvalidImage = errors.New("invalid indexed image")

// CompressionLevel selects the zlib effort used for IDAT data.
type CompressionLevel int

const (
	DefaultCompression CompressionLevel = 0
	NoCompression      CompressionLevel = -1
	BestSpeed          CompressionLevel = -2
	BestCompression    CompressionLevel = -3
)

func (l CompressionLevel) zlibLevel() int {
	switch l {
	case NoCompression:
		return zlib.NoCompression
	case BestSpeed:
		return zlib.BestSpeed
	case BestCompression:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

// Image is a palette plus a row-major index plane, one byte per pixel.
type Image struct {
	Width  int
	Height int
	Tables palette.Tables
	Pix    []byte
}

// Validate checks the image against the constraints of an 8-bit indexed PNG.
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Width > MaxDimension || img.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, img.Width, img.Height)
	}
	n := img.Tables.Len()
	if n == 0 || n > palette.MaxEntries {
		return fmt.Errorf("%w: %d palette entries, want 1-%d", ErrInvalidImage, n, palette.MaxEntries)
	}
	if len(img.Tables.RGB) != 3*n {
		return fmt.Errorf("%w: color table has %d bytes for %d entries", ErrInvalidImage, len(img.Tables.RGB), n)
	}
	if int64(len(img.Pix)) != int64(img.Width)*int64(img.Height) {
		return fmt.Errorf("%w: %d indices for %dx%d pixels", ErrInvalidImage, len(img.Pix), img.Width, img.Height)
	}
	for i, idx := range img.Pix {
		if int(idx) >= n {
			return fmt.Errorf("%w: pixel %d references entry %d of %d", ErrInvalidImage, i, idx, n)
		}
	}
	return nil
}

// Encoder writes indexed PNG files.
type Encoder struct {
	CompressionLevel CompressionLevel
}

// Encode returns the complete PNG file for img.
func (e *Encoder) Encode(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(img.Pix)/2 + 1024)
	if err := e.Write(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write validates img and streams it to w in the order a PNG reader
// requires: signature, IHDR, PLTE, tRNS (only when some entry is not fully
// opaque), IDAT, IEND.
func (e *Encoder) Write(w io.Writer, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	cw := &chunkWriter{w: w}
	cw.writeRaw([]byte(Signature))

	h := NewHeader(img.Width, img.Height)
	cw.writeChunk(TypeIHDR, h.Serialize())
	cw.writeChunk(TypePLTE, img.Tables.RGB)
	if img.Tables.HasTransparency {
		cw.writeChunk(TypeTRNS, img.Tables.Alpha)
	}
	if cw.err != nil {
		return cw.err
	}

	if err := e.writeImageData(cw, img); err != nil {
		return err
	}

	cw.writeChunk(TypeIEND, nil)
	return cw.err
}

// writeImageData deflates the filtered scanlines and emits them as IDAT
// chunks of at most MaxIDATSize bytes.
func (e *Encoder) writeImageData(cw *chunkWriter, img *Image) error {
	bw := bufio.NewWriterSize(idatWriter{cw}, MaxIDATSize)
	zw, err := zlib.NewWriterLevel(bw, e.CompressionLevel.zlibLevel())
	if err != nil {
		return fmt.Errorf("creating zlib writer: %w", err)
	}

	row := make([]byte, img.Width+1)
	row[0] = FilterNone
	for y := 0; y < img.Height; y++ {
		copy(row[1:], img.Pix[y*img.Width:(y+1)*img.Width])
		if _, err := zw.Write(row); err != nil {
			return fmt.Errorf("compressing row %d: %w", y, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing zlib stream: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing image data: %w", err)
	}
	return cw.err
}

// chunkWriter frames PNG chunks and remembers the first write error.
type chunkWriter struct {
	w   io.Writer
	err error
	hdr [8]byte
	ftr [4]byte
}

func (cw *chunkWriter) writeRaw(b []byte) {
	if cw.err != nil {
		return
	}
	_, cw.err = cw.w.Write(b)
}

func (cw *chunkWriter) writeChunk(typ string, data []byte) {
	if cw.err != nil {
		return
	}
	if uint64(len(data)) > MaxDimension {
		cw.err = fmt.Errorf("chunk %s too large: %d bytes", typ, len(data))
		return
	}
	binary.BigEndian.PutUint32(cw.hdr[:4], uint32(len(data)))
	copy(cw.hdr[4:], typ)
	crc := crc32.NewIEEE()
	crc.Write(cw.hdr[4:8])
	crc.Write(data)
	binary.BigEndian.PutUint32(cw.ftr[:], crc.Sum32())

	cw.writeRaw(cw.hdr[:])
	cw.writeRaw(data)
	cw.writeRaw(cw.ftr[:])
	if cw.err != nil {
		cw.err = fmt.Errorf("writing %s chunk: %w", typ, cw.err)
	}
}

// idatWriter turns writes into IDAT chunks of at most MaxIDATSize bytes.
type idatWriter struct {
	cw *chunkWriter
}

func (iw idatWriter) Write(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		part := b[:min(len(b), MaxIDATSize)]
		iw.cw.writeChunk(TypeIDAT, part)
		if iw.cw.err != nil {
			return n, iw.cw.err
		}
		n += len(part)
		b = b[len(part):]
	}
	return n, nil
}
