package quant

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// gradientImage creates a size×size image in which every pixel has a distinct
// color. alpha is applied to every pixel.
func gradientImage(size int, alpha func(x, y int) uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / size),
				G: uint8(y * 255 / size),
				B: uint8((x*size + y) % 251),
				A: alpha(x, y),
			})
		}
	}
	return img
}

func opaque(int, int) uint8 { return 255 }

// stripImage creates a w×h opaque image with w*h distinct colors (w*h < 768).
func stripImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetNRGBA(i%w, i/w, color.NRGBA{uint8(i), uint8(i / 256 * 97), uint8(i * 7), 255})
	}
	return img
}

func checkResult(t *testing.T, img *image.NRGBA, res *Result, maxColors int) {
	t.Helper()
	w, h := img.Rect.Dx(), img.Rect.Dy()
	pal := res.Image.Palette
	if len(pal) == 0 || len(pal) > maxColors {
		t.Fatalf("palette has %d entries, want 1-%d", len(pal), maxColors)
	}
	if len(res.Image.Pix) != w*h {
		t.Fatalf("index plane has %d entries, want %d", len(res.Image.Pix), w*h)
	}
	if res.Image.Stride != w {
		t.Errorf("stride = %d, want %d", res.Image.Stride, w)
	}
	for i, idx := range res.Image.Pix {
		if int(idx) >= len(pal) {
			t.Fatalf("index %d at pixel %d out of range for %d entries", idx, i, len(pal))
		}
	}
	seen := make(map[color.Color]bool, len(pal))
	for _, c := range pal {
		if seen[c] {
			t.Errorf("duplicate palette entry %v", c)
		}
		seen[c] = true
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"zero colors means 256", Options{QualityMax: 100, Speed: 1}, false},
		{"equal bounds", Options{QualityMin: 50, QualityMax: 50, Speed: 10, MaxColors: 2}, false},
		{"min above max", Options{QualityMin: 80, QualityMax: 20, Speed: 3}, true},
		{"min above 100", Options{QualityMin: 101, QualityMax: 101, Speed: 3}, true},
		{"max above 100", Options{QualityMin: 0, QualityMax: 255, Speed: 3}, true},
		{"speed 0", Options{QualityMax: 100, Speed: 0}, true},
		{"speed 11", Options{QualityMax: 100, Speed: 11}, true},
		{"negative speed", Options{QualityMax: 100, Speed: -3}, true},
		{"one color", Options{QualityMax: 100, Speed: 3, MaxColors: 1}, true},
		{"257 colors", Options{QualityMax: 100, Speed: 3, MaxColors: 257}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameter) {
					t.Errorf("Validate() = %v, want ErrInvalidParameter", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestQuantize_InvalidOptions(t *testing.T) {
	img := gradientImage(4, opaque)
	_, err := KMeans{}.Quantize(img, Options{QualityMin: 80, QualityMax: 20, Speed: 3})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
}

func TestQuantize_EmptyRaster(t *testing.T) {
	for _, img := range []*image.NRGBA{nil, image.NewNRGBA(image.Rect(0, 0, 0, 0))} {
		_, err := KMeans{}.Quantize(img, DefaultOptions())
		if !errors.Is(err, ErrQuantization) {
			t.Errorf("error = %v, want ErrQuantization", err)
		}
	}
}

func TestQuantize_SinglePixel(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})

	res, err := KMeans{}.Quantize(img, DefaultOptions())
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	checkResult(t, img, res, 256)
	if !res.Exact || res.Quality != 100 {
		t.Errorf("Exact/Quality = %v/%d, want true/100", res.Exact, res.Quality)
	}
	if got := res.Image.Palette[0]; got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("palette[0] = %v, want opaque red", got)
	}
}

func TestQuantize_ExactKeepsColors(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			c := color.NRGBA{uint8(x * 16), uint8(y * 16), 7, 255}
			switch {
			case x == 0:
				// Transparent pixels with different hidden colors collapse.
				c = color.NRGBA{uint8(y), 1, 2, 0}
			case x == 1:
				c.A = 100
			}
			img.SetNRGBA(x, y, c)
		}
	}

	res, err := KMeans{}.Quantize(img, DefaultOptions())
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	checkResult(t, img, res, 256)
	if !res.Exact {
		t.Fatal("expected exact palette")
	}
	if want := 15*16 + 1; len(res.Image.Palette) != want {
		t.Errorf("palette has %d entries, want %d", len(res.Image.Palette), want)
	}

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			got := res.Image.Palette[res.Image.ColorIndexAt(x, y)].(color.NRGBA)
			want := img.NRGBAAt(x, y)
			if want.A == 0 {
				want = color.NRGBA{}
			}
			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestQuantize_Lossy(t *testing.T) {
	tests := []struct {
		name  string
		img   *image.NRGBA
		opts  Options
		alpha bool
	}{
		{"opaque dithered", gradientImage(24, opaque), DefaultOptions(), false},
		{"opaque no dither", gradientImage(24, opaque), Options{QualityMax: 100, Speed: 5, NoDither: true}, false},
		{"16 colors", gradientImage(24, opaque), Options{QualityMax: 100, Speed: 3, MaxColors: 16}, false},
		{"fast opaque", gradientImage(24, opaque), Options{QualityMax: 100, Speed: 10}, false},
		{"translucent", gradientImage(24, func(x, y int) uint8 {
			if x < 4 {
				return 0
			}
			return uint8(64 + y*4)
		}), Options{QualityMax: 100, Speed: 4, MaxColors: 64}, true},
		{"translucent fast", gradientImage(24, func(x, _ int) uint8 { return uint8(x * 10) }),
			Options{QualityMax: 100, Speed: 10, MaxColors: 32}, true},
		{"single column fast", stripImage(1, 600), Options{QualityMax: 100, Speed: 10}, false},
		{"single row fast", stripImage(600, 1), Options{QualityMax: 100, Speed: 10}, false},
		{"single row speed 9", stripImage(600, 1), Options{QualityMax: 100, Speed: 9, MaxColors: 64}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := KMeans{}.Quantize(tt.img, tt.opts)
			if err != nil {
				t.Fatalf("Quantize: %v", err)
			}
			checkResult(t, tt.img, res, tt.opts.Colors())
			if res.Exact {
				t.Error("gradient should not fit an exact palette")
			}
			if res.Quality < 0 || res.Quality > 100 {
				t.Errorf("quality = %d, want 0-100", res.Quality)
			}

			hasAlpha := false
			for _, c := range res.Image.Palette {
				if c.(color.NRGBA).A < 255 {
					hasAlpha = true
				}
			}
			if hasAlpha != tt.alpha {
				t.Errorf("palette has alpha = %v, want %v", hasAlpha, tt.alpha)
			}
		})
	}
}

func TestQuantize_TransparentPixelsStayTransparent(t *testing.T) {
	img := gradientImage(24, func(x, _ int) uint8 {
		if x%3 == 0 {
			return 0
		}
		return 255
	})

	res, err := KMeans{}.Quantize(img, Options{QualityMax: 100, Speed: 3, MaxColors: 32, NoDither: true})
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x += 3 {
			c := res.Image.Palette[res.Image.ColorIndexAt(x, y)].(color.NRGBA)
			if c.A != 0 {
				t.Fatalf("pixel (%d,%d) alpha = %d, want 0", x, y, c.A)
			}
		}
	}
}

// noisyTwoTone has many distinct colors that all sit close to red or blue.
func noisyTwoTone() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			base := color.NRGBA{200, 30, 30, 255}
			if x >= 16 {
				base = color.NRGBA{30, 30, 200, 255}
			}
			base.R += uint8((x*5 + y) % 9)
			base.G += uint8((y*7 + x) % 9)
			base.B += uint8((x + y) % 4)
			img.SetNRGBA(x, y, base)
		}
	}
	return img
}

func TestQuantize_QualityMaxShrinksPalette(t *testing.T) {
	img := noisyTwoTone()
	opts := Options{QualityMin: 0, QualityMax: 50, Speed: 3, MaxColors: 64}

	res, err := KMeans{}.Quantize(img, opts)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	checkResult(t, img, res, 64)
	if len(res.Image.Palette) > 16 {
		t.Errorf("palette has %d entries, want <= 16 for quality target 50", len(res.Image.Palette))
	}
	if res.Quality < 50 {
		t.Errorf("quality = %d, want >= 50", res.Quality)
	}
}

func TestQuantize_QualityTooLow(t *testing.T) {
	img := gradientImage(24, opaque)
	opts := Options{QualityMin: 100, QualityMax: 100, Speed: 5, MaxColors: 2}

	_, err := KMeans{}.Quantize(img, opts)
	if !errors.Is(err, ErrQualityTooLow) {
		t.Fatalf("error = %v, want ErrQualityTooLow", err)
	}
	if !errors.Is(err, ErrQuantization) {
		t.Errorf("ErrQualityTooLow does not match ErrQuantization")
	}
}

func TestQualityCurve(t *testing.T) {
	prev := math.Inf(1)
	for q := 0; q <= 100; q++ {
		mse := qualityToMSE(q)
		if mse >= prev {
			t.Fatalf("qualityToMSE not decreasing at %d: %g >= %g", q, mse, prev)
		}
		prev = mse
		if got := mseToQuality(mse); got != q {
			t.Errorf("mseToQuality(qualityToMSE(%d)) = %d", q, got)
		}
	}
	if got := mseToQuality(maxMSE); got != 0 {
		t.Errorf("mseToQuality(max) = %d, want 0", got)
	}
}

func TestObservationRoundTrip(t *testing.T) {
	for _, c := range []color.NRGBA{
		{255, 0, 0, 255},
		{0, 128, 255, 255},
		{12, 34, 56, 200},
		{250, 250, 250, 40},
		{0, 0, 0, 0},
	} {
		got := fromCenter(toObservation(c))
		if c.A == 0 {
			if got != (color.NRGBA{}) {
				t.Errorf("transparent round trip = %v", got)
			}
			continue
		}
		for i, pair := range [][2]uint8{{got.R, c.R}, {got.G, c.G}, {got.B, c.B}, {got.A, c.A}} {
			if d := int(pair[0]) - int(pair[1]); d < -1 || d > 1 {
				t.Errorf("%v round trip = %v (channel %d off by %d)", c, got, i, d)
			}
		}
	}
}

func BenchmarkQuantize(b *testing.B) {
	img := gradientImage(64, opaque)
	opts := Options{QualityMax: 100, Speed: 8}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := (KMeans{}).Quantize(img, opts); err != nil {
			b.Fatal(err)
		}
	}
}

func TestSample_SparseImageIsBounded(t *testing.T) {
	// 1000×1000, visible only along the diagonal.
	img := image.NewNRGBA(image.Rect(0, 0, 1000, 1000))
	for i := 0; i < 1000; i++ {
		img.SetNRGBA(i, i, color.NRGBA{uint8(i), uint8(i >> 2), 200, 255})
	}

	prof := speedProfile(10)
	s := sample(img, prof, MaxColors)
	if limit := sparseSampleFactor * prof.maxSamples; len(s.observations) > limit {
		t.Errorf("observations = %d, want <= %d", len(s.observations), limit)
	}
	if len(s.observations) == 0 {
		t.Error("no visible pixel sampled")
	}
	if !s.transparent {
		t.Error("transparent pixels not recorded")
	}

	res, err := KMeans{}.Quantize(img, Options{QualityMax: 100, Speed: 10, NoDither: true})
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	checkResult(t, img, res, MaxColors)
	if got := res.Image.Palette[res.Image.ColorIndexAt(0, 999)]; got != (color.NRGBA{}) {
		t.Errorf("transparent pixel mapped to %v, want transparent", got)
	}
}
