package quant

import (
	"image"
	"image/color"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
)

// transparentKey is the packed value all fully transparent pixels collapse to.
const transparentKey = 0

func pack(c color.NRGBA) uint32 {
	if c.A == 0 {
		return transparentKey
	}
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func unpack(k uint32) color.NRGBA {
	return color.NRGBA{R: uint8(k >> 24), G: uint8(k >> 16), B: uint8(k >> 8), A: uint8(k)}
}

func pixelAt(img *image.NRGBA, i int) color.NRGBA {
	p := img.Pix[4*i : 4*i+4 : 4*i+4]
	return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
}

// exactPalette returns the distinct colors of img when there are at most
// maxColors of them. Fully transparent pixels share one {0,0,0,0} entry.
// The palette is sorted by packed value so equal inputs give equal output.
func exactPalette(img *image.NRGBA, maxColors int) (color.Palette, bool) {
	seen := make(map[uint32]struct{}, maxColors+1)
	n := img.Rect.Dx() * img.Rect.Dy()
	for i := 0; i < n; i++ {
		seen[pack(pixelAt(img, i))] = struct{}{}
		if len(seen) > maxColors {
			return nil, false
		}
	}

	keys := make([]uint32, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pal := make(color.Palette, len(keys))
	for i, k := range keys {
		pal[i] = unpack(k)
	}
	return pal, true
}

// samples is a stride sample of a raster: a color histogram for quality
// estimation and Lab observations of the visible pixels for clustering.
type samples struct {
	hist         map[uint32]float64
	observations clusters.Observations
	transparent  bool // some sampled pixel is fully transparent
}

// collectSamples visits about maxSamples pixels of img at a fixed stride.
func collectSamples(img *image.NRGBA, maxSamples int) *samples {
	n := img.Rect.Dx() * img.Rect.Dy()
	step := max(1, n/maxSamples)

	s := &samples{
		hist:         make(map[uint32]float64),
		observations: make(clusters.Observations, 0, min(n, maxSamples)+1),
	}
	for i := 0; i < n; i += step {
		c := pixelAt(img, i)
		key := pack(c)
		s.hist[key]++
		if key == transparentKey {
			s.transparent = true
			continue
		}
		s.observations = append(s.observations, toObservation(c))
	}
	return s
}

// toObservation maps c into alpha-weighted CIE Lab plus alpha, so that
// translucent colors sit closer together than their opaque versions.
func toObservation(c color.NRGBA) clusters.Coordinates {
	a := float64(c.A) / 255
	l, la, lb := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Lab()
	return clusters.Coordinates{l * a, la * a, lb * a, a}
}

// fromCenter is the inverse of toObservation, rounded to 8 bits.
func fromCenter(center clusters.Coordinates) color.NRGBA {
	a := min(max(center[3], 0), 1)
	alpha := uint8(a*255 + 0.5)
	if alpha == 0 {
		return color.NRGBA{}
	}
	r, g, b := colorful.Lab(center[0]/a, center[1]/a, center[2]/a).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}
