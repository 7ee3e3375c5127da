package quant

import (
	"image/color"
	"math"

	"gonum.org/v1/gonum/stat"
)

// maxMSE is the largest squared distance between two normalized RGBA colors.
const maxMSE = 4.0

// qualityToMSE maps a 0-100 quality onto the mean squared error it allows.
// The curve follows libimagequant, which tunes it to resemble libjpeg
// quality settings.
func qualityToMSE(q int) float64 {
	if q <= 0 {
		return maxMSE
	}
	if q >= MaxQuality {
		return 0
	}
	fq := float64(q)
	extraLow := math.Max(0, 0.016/(0.001+fq)-0.001)
	return extraLow + 2.5/math.Pow(210+fq, 1.2)*(100.1-fq)/100
}

// mseToQuality is the inverse of qualityToMSE.
func mseToQuality(mse float64) int {
	for q := MaxQuality; q > 0; q-- {
		if mse <= qualityToMSE(q)+1e-6 {
			return q
		}
	}
	return 0
}

// premul is a color as premultiplied RGBA in [0,1].
type premul [4]float64

func toPremul(c color.NRGBA) premul {
	a := float64(c.A) / 255
	return premul{float64(c.R) / 255 * a, float64(c.G) / 255 * a, float64(c.B) / 255 * a, a}
}

func (p premul) dist(q premul) float64 {
	var d float64
	for i := range p {
		x := p[i] - q[i]
		d += x * x
	}
	return d
}

// nearest returns the index of the palette entry closest to c and the
// squared distance to it.
func nearest(c premul, pal []premul) (int, float64) {
	best, bestD := 0, math.MaxFloat64
	for i, p := range pal {
		if d := c.dist(p); d < bestD {
			best, bestD = i, d
			if d == 0 {
				break
			}
		}
	}
	return best, bestD
}

// meanSquaredError is the population-weighted mean of the squared distance
// between every sampled color and its nearest palette entry.
func (s *samples) meanSquaredError(pal color.Palette) float64 {
	pp := make([]premul, len(pal))
	for i, c := range pal {
		pp[i] = toPremul(color.NRGBAModel.Convert(c).(color.NRGBA))
	}

	errs := make([]float64, 0, len(s.hist))
	weights := make([]float64, 0, len(s.hist))
	for key, n := range s.hist {
		_, d := nearest(toPremul(unpack(key)), pp)
		errs = append(errs, d)
		weights = append(weights, n)
	}
	if len(errs) == 0 {
		return 0
	}
	return stat.Mean(errs, weights)
}
