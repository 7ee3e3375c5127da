package quant

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cenkalti/dominantcolor"
	"github.com/muesli/kmeans"

	"github.com/pspoerri/pngquant/internal/raster"
)

// clusterPalette partitions the sampled observations into at most k colors.
// One slot is reserved for fully transparent pixels when the sample has any.
func clusterPalette(s *samples, k int, prof profile) (color.Palette, error) {
	if s.transparent {
		k--
	}
	k = min(k, len(s.observations))
	if k < 1 {
		return nil, fmt.Errorf("%w: no visible pixels to cluster", ErrQuantization)
	}

	km, err := kmeans.NewWithOptions(prof.delta, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: configuring k-means: %v", ErrQuantization, err)
	}
	cc, err := km.Partition(s.observations, k)
	if err != nil {
		return nil, fmt.Errorf("%w: k-means: %v", ErrQuantization, err)
	}

	b := newPaletteBuilder(k + 1)
	if s.transparent {
		b.add(color.NRGBA{})
	}
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 4 {
			continue
		}
		b.add(fromCenter(c.Center))
	}
	if len(b.pal) == 0 {
		return nil, fmt.Errorf("%w: k-means produced no clusters", ErrQuantization)
	}
	return b.pal, nil
}

// canUseDominant reports whether img suits dominantcolor: it must be opaque
// and at least 2 pixels in both directions.
func canUseDominant(img *image.NRGBA) bool {
	return img.Rect.Dx() >= 2 && img.Rect.Dy() >= 2 && !raster.HasAlpha(img)
}

// dominantPalette picks up to k weighted dominant colors of an opaque image.
// It returns nil if dominantcolor fails, so the caller falls back to k-means.
func dominantPalette(img image.Image, k int) (pal color.Palette) {
	defer func() {
		if r := recover(); r != nil {
			pal = nil
		}
	}()

	b := newPaletteBuilder(k)
	for _, c := range dominantcolor.FindWeight(img, k) {
		if len(b.pal) == k {
			break
		}
		b.add(color.NRGBA{R: c.RGBA.R, G: c.RGBA.G, B: c.RGBA.B, A: 0xff})
	}
	return b.pal
}

// paletteBuilder collects distinct colors in insertion order.
type paletteBuilder struct {
	pal  color.Palette
	seen map[color.NRGBA]struct{}
}

func newPaletteBuilder(n int) *paletteBuilder {
	return &paletteBuilder{
		pal:  make(color.Palette, 0, n),
		seen: make(map[color.NRGBA]struct{}, n),
	}
}

func (b *paletteBuilder) add(c color.NRGBA) {
	if _, ok := b.seen[c]; ok {
		return
	}
	b.seen[c] = struct{}{}
	b.pal = append(b.pal, c)
}
