package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// testImage creates a size×size NRGBA image with a gradient pattern whose
// right edge has the given alpha.
func testImage(size int, edgeAlpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			a := uint8(255)
			if x == size-1 {
				a = edgeAlpha
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 16 % 256),
				G: uint8(y * 16 % 256),
				B: uint8((x + y) * 8 % 256),
				A: a,
			})
		}
	}
	return img
}

func encodeWith(t *testing.T, img image.Image, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	case FormatTIFF:
		err = tiff.Encode(&buf, img, nil)
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Lossless: true, Exact: true})
	default:
		t.Fatalf("no encoder for %q", format)
	}
	if err != nil {
		t.Fatalf("encoding %s: %v", format, err)
	}
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), FormatPNG, false},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, FormatJPEG, false},
		{"gif87", []byte("GIF87a..."), FormatGIF, false},
		{"gif89", []byte("GIF89a..."), FormatGIF, false},
		{"bmp", []byte("BM\x00\x00"), FormatBMP, false},
		{"tiff le", []byte("II*\x00...."), FormatTIFF, false},
		{"tiff be", []byte("MM\x00*...."), FormatTIFF, false},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8L"), FormatWebP, false},
		{"riff wav", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), "", true},
		{"empty", nil, "", true},
		{"text", []byte("hello world"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sniff(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("Sniff error = %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Sniff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStdDecoder_LosslessFormats(t *testing.T) {
	tests := []struct {
		format    string
		edgeAlpha uint8
	}{
		{FormatPNG, 128},
		{FormatTIFF, 128},
		{FormatWebP, 255},
	}

	for _, tt := range tests {
		format := tt.format
		src := testImage(16, tt.edgeAlpha)
		t.Run(format, func(t *testing.T) {
			data := encodeWith(t, src, format)

			img, got, err := StdDecoder{}.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != format {
				t.Errorf("format = %q, want %q", got, format)
			}

			r, err := FromImage(img)
			if err != nil {
				t.Fatalf("FromImage: %v", err)
			}
			defer Put(r)

			for y := 0; y < 16; y++ {
				for x := 0; x < 16; x++ {
					want := src.NRGBAAt(x, y)
					if c := r.NRGBAAt(x, y); c != want {
						t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, c, want)
					}
				}
			}
		})
	}
}

func TestStdDecoder_OpaqueFormats(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	for _, format := range []string{FormatJPEG, FormatGIF, FormatBMP} {
		t.Run(format, func(t *testing.T) {
			data := encodeWith(t, src, format)

			img, got, err := StdDecoder{}.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != format {
				t.Errorf("format = %q, want %q", got, format)
			}

			r, err := FromImage(img)
			if err != nil {
				t.Fatalf("FromImage: %v", err)
			}
			defer Put(r)

			if r.Rect.Dx() != 8 || r.Rect.Dy() != 4 {
				t.Errorf("size = %dx%d, want 8x4", r.Rect.Dx(), r.Rect.Dy())
			}
			if HasAlpha(r) {
				t.Error("opaque source produced a raster with alpha")
			}
		})
	}
}

func TestStdDecoder_Malformed(t *testing.T) {
	good := encodeWith(t, testImage(32, 128), FormatPNG)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"signature only", good[:8]},
		{"truncated header", good[:20]},
		{"truncated data", good[:len(good)/2]},
		{"jpeg marker only", []byte{0xff, 0xd8, 0xff}},
		{"webp header only", []byte("RIFF\x00\x00\x00\x00WEBP")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, _, err := StdDecoder{}.Decode(tt.data)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if img != nil {
				t.Error("Decode returned an image alongside an error")
			}
		})
	}
}

func TestFromImage_Layouts(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 1, color.Gray{Y: 200})

	pal := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{
		color.NRGBA{0, 0, 0, 0},
		color.NRGBA{10, 20, 30, 255},
	})
	pal.SetColorIndex(1, 0, 1)

	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rgba.SetRGBA(0, 0, color.RGBA{R: 64, G: 0, B: 0, A: 128}) // premultiplied

	// Sub-image with a non-zero origin.
	sub := testImage(8, 128).SubImage(image.Rect(2, 3, 5, 6))

	tests := []struct {
		name string
		img  image.Image
		x, y int
		want color.NRGBA
	}{
		{"gray", gray, 1, 1, color.NRGBA{200, 200, 200, 255}},
		{"gray black", gray, 0, 0, color.NRGBA{0, 0, 0, 255}},
		{"paletted transparent", pal, 0, 0, color.NRGBA{0, 0, 0, 0}},
		{"paletted opaque", pal, 1, 0, color.NRGBA{10, 20, 30, 255}},
		{"premultiplied", rgba, 0, 0, color.NRGBA{127, 0, 0, 128}},
		{"sub-image", sub, 0, 0, testImage(8, 128).NRGBAAt(2, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := FromImage(tt.img)
			if err != nil {
				t.Fatalf("FromImage: %v", err)
			}
			defer Put(r)

			if err := Validate(r); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got := r.NRGBAAt(tt.x, tt.y); got != tt.want {
				t.Errorf("pixel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromImage_EmptyImage(t *testing.T) {
	for _, img := range []image.Image{
		nil,
		image.NewNRGBA(image.Rect(0, 0, 0, 10)),
		image.NewNRGBA(image.Rect(0, 0, 10, 0)),
	} {
		if _, err := FromImage(img); !errors.Is(err, ErrDimensions) {
			t.Errorf("FromImage(%v) error = %v, want ErrDimensions", img, err)
		}
	}
	if _, err := FromImage(image.NewGray(image.Rect(3, 3, 3, 8))); !errors.Is(err, ErrEmpty) {
		t.Errorf("zero-width error = %v, want ErrEmpty", err)
	}
	if err := checkDimensions(1<<15, 1<<14); errors.Is(err, ErrEmpty) || !errors.Is(err, ErrDimensions) {
		t.Errorf("oversized error = %v, want ErrDimensions without ErrEmpty", err)
	}
}

func TestValidate(t *testing.T) {
	ok := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	if err := Validate(ok); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}

	short := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	short.Pix = short.Pix[:len(short.Pix)-1]
	if err := Validate(short); err == nil {
		t.Error("Validate accepted a short pixel buffer")
	}

	offset := image.NewNRGBA(image.Rect(1, 1, 4, 3))
	if err := Validate(offset); err == nil {
		t.Error("Validate accepted a non-zero origin")
	}
}

func TestPool_Reuse(t *testing.T) {
	a := Get(4, 4)
	a.Pix[0] = 42
	Put(a)
	if a.Pix != nil {
		t.Errorf("Put did not detach the pixel buffer")
	}

	b := Get(4, 4)
	if b.Pix[0] != 0 {
		t.Errorf("pooled raster not cleared: Pix[0] = %d", b.Pix[0])
	}
	if b.Rect != image.Rect(0, 0, 4, 4) || b.Stride != 16 || len(b.Pix) != 64 {
		t.Errorf("Rect/Stride/len = %v/%d/%d, want (0,0)-(4,4)/16/64", b.Rect, b.Stride, len(b.Pix))
	}
	Put(b)
	Put(nil)
}

func TestPool_DistinctSizes(t *testing.T) {
	// A buffer freed by a large raster serves smaller ones of any shape.
	for i := 1; i <= 200; i++ {
		w, h := i, 201-i
		img := Get(w, h)
		if img.Rect.Dx() != w || img.Rect.Dy() != h || len(img.Pix) != 4*w*h || img.Stride != 4*w {
			t.Fatalf("Get(%d, %d) = rect %v stride %d len %d", w, h, img.Rect, img.Stride, len(img.Pix))
		}
		for j, v := range img.Pix {
			if v != 0 {
				t.Fatalf("Get(%d, %d): Pix[%d] = %d, want 0", w, h, j, v)
			}
		}
		img.Pix[len(img.Pix)-1] = 0xff
		Put(img)
	}
}

func TestPool_SkipsHugeBuffers(t *testing.T) {
	img := &image.NRGBA{Pix: make([]byte, maxPooledBytes+4), Stride: 4, Rect: image.Rect(0, 0, 1, maxPooledBytes/4+1)}
	Put(img)
	if img.Pix == nil {
		t.Errorf("oversized buffer was taken by the pool")
	}
}
