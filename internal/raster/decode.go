package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Supported input formats, as reported by Sniff and Decoder.Decode.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
	FormatWebP = "webp"
)

// ErrUnknownFormat is returned when the input does not start with the magic
// bytes of any supported container.
var ErrUnknownFormat = errors.New("unknown image format")

// Decoder turns an encoded image into an image.Image.
type Decoder interface {
	// Decode decodes data and returns the image together with the detected
	// format name.
	Decode(data []byte) (image.Image, string, error)
}

// StdDecoder decodes PNG, JPEG, GIF, BMP, TIFF and WebP input.
type StdDecoder struct{}

// Decode sniffs the container format and dispatches to the matching decoder.
// A panic inside a decoder is turned into an error so hostile input can
// never take the process down.
func (StdDecoder) Decode(data []byte) (img image.Image, format string, err error) {
	format, err = Sniff(data)
	if err != nil {
		return nil, "", err
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%s decoder panicked: %v", format, r)
		}
	}()

	cfg, err := DecodeConfig(data, format)
	if err != nil {
		return nil, format, fmt.Errorf("reading %s header: %w", format, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, format, err
	}

	img, err = DecodeImage(data, format)
	if err != nil {
		return nil, format, fmt.Errorf("decoding %s: %w", format, err)
	}
	return img, format, nil
}

// DecodeImage decodes image bytes in the specified format.
// Supported formats: "png", "jpeg"/"jpg", "gif", "bmp", "tiff", "webp".
func DecodeImage(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case FormatPNG:
		return png.Decode(r)
	case FormatJPEG, "jpg":
		return jpeg.Decode(r)
	case FormatGIF:
		return gif.Decode(r)
	case FormatBMP:
		return bmp.Decode(r)
	case FormatTIFF:
		return tiff.Decode(r)
	case FormatWebP:
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported decode format: %q", format)
	}
}

// DecodeConfig reads only the image header.
func DecodeConfig(data []byte, format string) (image.Config, error) {
	r := bytes.NewReader(data)
	switch format {
	case FormatPNG:
		return png.DecodeConfig(r)
	case FormatJPEG, "jpg":
		return jpeg.DecodeConfig(r)
	case FormatGIF:
		return gif.DecodeConfig(r)
	case FormatBMP:
		return bmp.DecodeConfig(r)
	case FormatTIFF:
		return tiff.DecodeConfig(r)
	case FormatWebP:
		return webp.DecodeConfig(r)
	default:
		return image.Config{}, fmt.Errorf("unsupported decode format: %q", format)
	}
}

// Sniff reports the container format of data from its leading magic bytes.
func Sniff(data []byte) (string, error) {
	switch {
	case len(data) == 0:
		return "", fmt.Errorf("empty input: %w", ErrUnknownFormat)
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case bytes.HasPrefix(data, []byte{0xff, 0xd8}):
		return FormatJPEG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF, nil
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP, nil
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF, nil
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP, nil
	}
	return "", ErrUnknownFormat
}
