// Package raster normalizes decoded images into flat, non-premultiplied
// RGBA rasters.
package raster

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// MaxPixels bounds width*height of accepted rasters (256 megapixels).
const MaxPixels = 1 << 28

var (
	// ErrDimensions is returned for empty or oversized images.
	ErrDimensions = errors.New("invalid image dimensions")
	// ErrEmpty marks a raster with zero width or height.
	ErrEmpty = fmt.Errorf("%w: empty raster", ErrDimensions)
)

// FromImage copies img into a pooled *image.NRGBA anchored at the origin.
// Every source layout (gray, paletted, YCbCr, CMYK, 16-bit, premultiplied)
// ends up as 8-bit non-premultiplied RGBA; sources without an alpha channel
// come out fully opaque. Release the result with Put once done.
func FromImage(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image: %w", ErrDimensions)
	}
	b := img.Bounds()
	if err := checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	dst := Get(b.Dx(), b.Dy())
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[si:si+4*b.Dx()])
		}
		return dst, nil
	}
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst, nil
}

// Validate checks the raster invariant len(Pix) == 4*width*height for an
// origin-anchored, tightly packed image.
func Validate(img *image.NRGBA) error {
	if img == nil {
		return fmt.Errorf("nil raster: %w", ErrDimensions)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if err := checkDimensions(w, h); err != nil {
		return err
	}
	if img.Rect.Min != (image.Point{}) {
		return fmt.Errorf("raster origin %v, want (0,0)", img.Rect.Min)
	}
	if img.Stride != 4*w || len(img.Pix) != 4*w*h {
		return fmt.Errorf("raster has %d bytes (stride %d), want %d: %w",
			len(img.Pix), img.Stride, 4*w*h, ErrDimensions)
	}
	return nil
}

// HasAlpha reports whether any pixel of img is not fully opaque.
func HasAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return true
		}
	}
	return false
}

func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%dx%d: %w", w, h, ErrEmpty)
	}
	if int64(w)*int64(h) > MaxPixels {
		return fmt.Errorf("%dx%d exceeds %d pixels: %w", w, h, MaxPixels, ErrDimensions)
	}
	return nil
}
