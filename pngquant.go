// Package pngquant converts raster images into palette-indexed PNGs.
//
// Input bytes in any supported format (PNG, JPEG, GIF, BMP, TIFF, WebP) are
// decoded, reduced to at most 256 RGBA colors and written as an 8-bit indexed
// PNG. Transparency survives through a tRNS chunk, which is only emitted when
// at least one palette entry is not fully opaque.
//
// Every failure is an *Error carrying one of four kinds: decode, invalid
// parameter, quantization or encode. A failed call never returns output.
package pngquant

import (
	"image"

	"github.com/pspoerri/pngquant/internal/quant"
)

// Options control quantization. The zero value is not valid; start from
// DefaultOptions.
type Options = quant.Options

// DefaultOptions returns quality 0-100, speed 3 and a 256 color limit.
func DefaultOptions() Options { return quant.DefaultOptions() }

// Quantize decodes data, reduces it to a palette and returns the indexed PNG.
func Quantize(data []byte, opts Options) ([]byte, error) {
	res, err := defaultPipeline.Run(data, opts)
	if err != nil {
		return nil, err
	}
	return res.PNG, nil
}

// QuantizeImage is Quantize for an already decoded image.
func QuantizeImage(img image.Image, opts Options) ([]byte, error) {
	res, err := defaultPipeline.RunImage(img, opts)
	if err != nil {
		return nil, err
	}
	return res.PNG, nil
}

var defaultPipeline = New()
