package pngquant

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/pspoerri/pngquant/internal/indexpng"
	"github.com/pspoerri/pngquant/internal/palette"
	"github.com/pspoerri/pngquant/internal/quant"
	"github.com/pspoerri/pngquant/internal/raster"
)

// Stage names used in *Error.
const (
	StageValidate  = "validate"
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageQuantize  = "quantize"
	StageSplit     = "split"
	StageAssemble  = "assemble"
)

// Encoder writes an indexed image as PNG bytes.
type Encoder interface {
	Encode(img *indexpng.Image) ([]byte, error)
}

// Result is the output of a successful Run.
type Result struct {
	PNG    []byte
	Format string // detected input format, empty for RunImage
	Width  int
	Height int
	// Colors is the number of palette entries written.
	Colors      int
	Quality     int
	Transparent bool
}

// Pipeline runs the decode, quantize and assemble stages. All fields are
// optional; nil ones fall back to the defaults used by New. A Pipeline holds
// no per-call state and may be shared between goroutines.
type Pipeline struct {
	Decoder   raster.Decoder
	Quantizer quant.Quantizer
	Encoder   Encoder
	Logger    *slog.Logger
}

// New returns a Pipeline wired with the built-in decoder, the k-means
// quantizer and the indexed PNG encoder.
func New() *Pipeline {
	return &Pipeline{
		Decoder:   raster.StdDecoder{},
		Quantizer: quant.KMeans{},
	}
}

// Run converts encoded image bytes into an indexed PNG. Options are
// validated before any byte of data is looked at.
func (p *Pipeline) Run(data []byte, opts Options) (*Result, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		img    image.Image
		format string
	)
	err := guard(KindDecode, StageDecode, func() (err error) {
		img, format, err = p.decoder().Decode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger().Debug("decoded", "format", format, "bounds", img.Bounds(), "elapsed", time.Since(start))

	res, err := p.run(img, opts)
	if err != nil {
		return nil, err
	}
	res.Format = format
	return res, nil
}

// RunImage is Run without the decode stage.
func (p *Pipeline) RunImage(img image.Image, opts Options) (*Result, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, newError(KindDecode, StageDecode, errors.New("nil image"))
	}
	return p.run(img, opts)
}

func (p *Pipeline) run(src image.Image, opts Options) (*Result, error) {
	log := p.logger()

	var img *image.NRGBA
	err := guard(KindDecode, StageNormalize, func() (err error) {
		img, err = raster.FromImage(src)
		if errors.Is(err, raster.ErrEmpty) {
			return newError(KindQuantization, StageNormalize, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	defer raster.Put(img)

	start := time.Now()
	var qr *quant.Result
	err = guard(KindQuantization, StageQuantize, func() (err error) {
		qr, err = p.quantizer().Quantize(img, opts)
		if err == nil && (qr == nil || qr.Image == nil) {
			err = errors.New("quantizer returned no image")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("quantized",
		"colors", len(qr.Image.Palette),
		"quality", qr.Quality,
		"mse", qr.MSE,
		"exact", qr.Exact,
		"elapsed", time.Since(start))

	var tables palette.Tables
	err = guard(KindEncode, StageSplit, func() error {
		tables = palette.Split(qr.Image.Palette)
		if n := tables.Len(); n == 0 || n > palette.MaxEntries {
			return fmt.Errorf("palette has %d entries", n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w, h := qr.Image.Rect.Dx(), qr.Image.Rect.Dy()
	out := &indexpng.Image{
		Width:  w,
		Height: h,
		Tables: tables,
		Pix:    indexPlane(qr.Image),
	}

	start = time.Now()
	var buf []byte
	err = guard(KindEncode, StageAssemble, func() (err error) {
		buf, err = p.encoder(opts).Encode(out)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("assembled", "bytes", len(buf), "transparent", tables.HasTransparency, "elapsed", time.Since(start))

	return &Result{
		PNG:         buf,
		Width:       w,
		Height:      h,
		Colors:      tables.Len(),
		Quality:     qr.Quality,
		Transparent: tables.HasTransparency,
	}, nil
}

func (p *Pipeline) decoder() raster.Decoder {
	if p.Decoder != nil {
		return p.Decoder
	}
	return raster.StdDecoder{}
}

func (p *Pipeline) quantizer() quant.Quantizer {
	if p.Quantizer != nil {
		return p.Quantizer
	}
	return quant.KMeans{}
}

// encoder picks the zlib effort from the speed setting when no Encoder is set.
func (p *Pipeline) encoder(opts Options) Encoder {
	if p.Encoder != nil {
		return p.Encoder
	}
	level := indexpng.BestCompression
	if opts.Speed >= 8 {
		level = indexpng.DefaultCompression
	}
	return &indexpng.Encoder{CompressionLevel: level}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return discard
}

var discard = slog.New(slog.DiscardHandler)

func validate(opts Options) error {
	if err := opts.Validate(); err != nil {
		return newError(KindInvalidParameter, StageValidate, err)
	}
	return nil
}

// guard runs fn and turns its error or panic into an *Error. A quantizer
// error that already names a parameter problem keeps that kind.
func guard(kind Kind, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(kind, stage, fmt.Errorf("panic: %v", r))
		}
	}()
	if err = fn(); err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, quant.ErrInvalidParameter) {
		kind = KindInvalidParameter
	}
	return newError(kind, stage, err)
}

// indexPlane returns the palette indices as a tightly packed row-major slice.
func indexPlane(img *image.Paletted) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == w && len(img.Pix) == w*h {
		return img.Pix
	}
	pix := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(pix[y*w:(y+1)*w], img.Pix[off:off+w])
	}
	return pix
}
