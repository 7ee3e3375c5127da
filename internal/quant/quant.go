package quant

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/pspoerri/pngquant/internal/raster"
)

// sparseSampleFactor bounds the resampling of mostly transparent images.
const sparseSampleFactor = 16

// Result is a remapped image plus the quality the palette reached.
type Result struct {
	// Image holds the palette and the index plane (Stride == width).
	Image *image.Paletted
	// Quality is the estimated quality on the 0-100 scale of Options.
	Quality int
	// MSE is the mean squared error in normalized premultiplied RGBA.
	MSE float64
	// Exact is set when the source had few enough colors to keep them all.
	Exact bool
}

// Quantizer reduces a raster to a palette and an index plane.
type Quantizer interface {
	Quantize(img *image.NRGBA, opts Options) (*Result, error)
}

// KMeans is the default Quantizer. Images with at most Options.Colors()
// distinct colors keep them exactly; others are clustered with k-means in
// Lab space. Clustering starts from random centers, so two runs over the
// same input may pick different palettes.
type KMeans struct{}

var _ Quantizer = KMeans{}

// Quantize validates opts, selects a palette and remaps img onto it.
func (KMeans) Quantize(img *image.NRGBA, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := raster.Validate(img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuantization, err)
	}
	maxColors := opts.Colors()

	if pal, ok := exactPalette(img, maxColors); ok {
		return &Result{
			Image:   remapExact(img, pal),
			Quality: MaxQuality,
			Exact:   true,
		}, nil
	}

	prof := speedProfile(opts.Speed)
	s := sample(img, prof, maxColors)

	var pal color.Palette
	if prof.dominant && canUseDominant(img) {
		pal = dominantPalette(img, maxColors)
	}
	if len(pal) == 0 {
		var err error
		if pal, err = clusterPalette(s, maxColors, prof); err != nil {
			return nil, err
		}
	}
	mse := s.meanSquaredError(pal)
	quality := mseToQuality(mse)

	if opts.QualityMax < MaxQuality && quality >= int(opts.QualityMax) {
		pal, mse, quality = shrink(s, pal, mse, quality, int(opts.QualityMax), prof)
	}
	if quality < int(opts.QualityMin) {
		return nil, fmt.Errorf("%w: reached %d, minimum is %d", ErrQualityTooLow, quality, opts.QualityMin)
	}

	return &Result{
		Image:   remap(img, pal, !opts.NoDither),
		Quality: quality,
		MSE:     mse,
	}, nil
}

// sample collects the observations to cluster. When too few visible pixels
// fall on the stride it samples denser, up to sparseSampleFactor times the
// speed budget.
func sample(img *image.NRGBA, prof profile, maxColors int) *samples {
	s := collectSamples(img, prof.maxSamples)
	if len(s.observations) >= maxColors {
		return s
	}
	return collectSamples(img, min(img.Rect.Dx()*img.Rect.Dy(), sparseSampleFactor*prof.maxSamples))
}

// shrink halves the palette while the quality stays at or above target.
func shrink(s *samples, pal color.Palette, mse float64, quality, target int, prof profile) (color.Palette, float64, int) {
	for k := len(pal) / 2; k >= MinColors; k /= 2 {
		cand, err := clusterPalette(s, k, prof)
		if err != nil {
			break
		}
		cm := s.meanSquaredError(cand)
		cq := mseToQuality(cm)
		if cq < target {
			break
		}
		pal, mse, quality = cand, cm, cq
	}
	return pal, mse, quality
}

// remap assigns every pixel of img to an entry of pal, diffusing the
// quantization error with Floyd-Steinberg when dither is set.
func remap(img *image.NRGBA, pal color.Palette, dither bool) *image.Paletted {
	dst := image.NewPaletted(img.Rect, pal)
	if dither {
		draw.FloydSteinberg.Draw(dst, dst.Rect, img, image.Point{})
	} else {
		draw.Draw(dst, dst.Rect, img, image.Point{}, draw.Src)
	}
	return dst
}

// remapExact indexes img against a palette that contains every color of img.
func remapExact(img *image.NRGBA, pal color.Palette) *image.Paletted {
	index := make(map[uint32]uint8, len(pal))
	for i, c := range pal {
		index[pack(c.(color.NRGBA))] = uint8(i)
	}

	dst := image.NewPaletted(img.Rect, pal)
	for i := range dst.Pix {
		dst.Pix[i] = index[pack(pixelAt(img, i))]
	}
	return dst
}
