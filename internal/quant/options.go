// Package quant reduces an RGBA raster to a bounded palette and a per-pixel
// index plane.
package quant

import (
	"errors"
	"fmt"
)

// Parameter bounds.
const (
	MaxQuality = 100
	MinSpeed   = 1
	MaxSpeed   = 10
	MinColors  = 2
	MaxColors  = 256
)

var (
	// ErrInvalidParameter marks option values outside their documented range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrQuantization marks an engine that could not produce a palette.
	ErrQuantization = errors.New("quantization failed")
	// ErrQualityTooLow is returned when the best palette found stays below
	// Options.QualityMin.
	ErrQualityTooLow = fmt.Errorf("%w: quality too low", ErrQuantization)
)

// Options controls palette selection.
type Options struct {
	// QualityMin is the lowest acceptable quality (0-100). Results below it
	// fail with ErrQualityTooLow.
	QualityMin uint8
	// QualityMax is the target quality (0-100). Below 100 the engine uses the
	// smallest palette that still reaches it.
	QualityMax uint8
	// Speed trades fidelity for time: 1 is slowest and best, 10 fastest.
	Speed int
	// MaxColors caps the palette size (2-256). Zero means 256.
	MaxColors int
	// NoDither disables Floyd-Steinberg error diffusion when remapping.
	NoDither bool
}

// DefaultOptions returns quality 0-100 at speed 3 with a 256-color palette.
func DefaultOptions() Options {
	return Options{QualityMin: 0, QualityMax: MaxQuality, Speed: 3, MaxColors: MaxColors}
}

// Colors returns the effective palette cap.
func (o Options) Colors() int {
	if o.MaxColors == 0 {
		return MaxColors
	}
	return o.MaxColors
}

// Validate rejects out-of-range values; nothing is clamped.
func (o Options) Validate() error {
	switch {
	case o.QualityMin > MaxQuality:
		return fmt.Errorf("%w: quality_min %d outside [0,%d]", ErrInvalidParameter, o.QualityMin, MaxQuality)
	case o.QualityMax > MaxQuality:
		return fmt.Errorf("%w: quality_max %d outside [0,%d]", ErrInvalidParameter, o.QualityMax, MaxQuality)
	case o.QualityMin > o.QualityMax:
		return fmt.Errorf("%w: quality_min %d > quality_max %d", ErrInvalidParameter, o.QualityMin, o.QualityMax)
	case o.Speed < MinSpeed || o.Speed > MaxSpeed:
		return fmt.Errorf("%w: speed %d outside [%d,%d]", ErrInvalidParameter, o.Speed, MinSpeed, MaxSpeed)
	case o.MaxColors != 0 && (o.MaxColors < MinColors || o.MaxColors > MaxColors):
		return fmt.Errorf("%w: max colors %d outside [%d,%d]", ErrInvalidParameter, o.MaxColors, MinColors, MaxColors)
	}
	return nil
}

// profile holds the engine settings derived from Options.Speed.
type profile struct {
	maxSamples int
	delta      float64 // k-means stops once fewer than this fraction of points move
	dominant   bool    // seed opaque images with dominantcolor instead of k-means
}

func speedProfile(speed int) profile {
	samples := [...]int{16384, 12288, 8192, 6144, 4096, 3072, 2048, 1536, 1024, 1024}
	return profile{
		maxSamples: samples[speed-1],
		delta:      0.005 * float64(speed),
		dominant:   speed >= 9,
	}
}
