package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/pspoerri/pngquant"
	"github.com/pspoerri/pngquant/internal/batch"
	"github.com/pspoerri/pngquant/internal/indexpng"
	"github.com/pspoerri/pngquant/internal/quant"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Exit codes, compatible with pngquant.
const (
	exitOK              = 0
	exitMissingArgument = 1
	exitReadError       = 2
	exitInvalidArgument = 4
	exitNotOverwriting  = 15
	exitCantWrite       = 16
	exitTooLarge        = 98
	exitTooLowQuality   = 99
)

// CLI is the command line of pngquant.
type CLI struct {
	Files []string `arg:"" optional:"" name:"file" help:"Input images (PNG, JPEG, GIF, BMP, TIFF, WebP). Use - for stdin."`

	Quality      string           `short:"Q" placeholder:"MIN-MAX" help:"Quality range 0-100. Conversion fails below MIN and uses the fewest colors that reach MAX."`
	Speed        int              `short:"s" default:"3" help:"Speed/quality trade-off from 1 (slowest) to 10 (fastest)."`
	Colors       int              `default:"256" help:"Maximum number of palette entries, 2-256."`
	NoFS         bool             `name:"nofs" help:"Disable Floyd-Steinberg dithering."`
	Ext          string           `default:"-fs8.png" help:"Suffix replacing the input extension in output file names."`
	Output       string           `short:"o" help:"Output file for a single input. Use - for stdout."`
	Force        bool             `short:"f" help:"Overwrite existing output files."`
	SkipIfLarger bool             `help:"Do not write the result if it is larger than the input."`
	Concurrency  int              `short:"j" default:"0" help:"Number of parallel workers (0 = number of CPUs)."`
	Level        string           `enum:"auto,none,speed,default,best" default:"auto" help:"zlib effort for the image data: auto, none, speed, default, best."`
	Progress     bool             `help:"Show a progress bar on stderr."`
	Verbose      bool             `short:"v" help:"Verbose output."`
	CPUProfile   string           `name:"cpuprofile" type:"path" help:"Write CPU profile to file."`
	MemProfile   string           `name:"memprofile" type:"path" help:"Write memory profile to file."`
	Version      kong.VersionFlag `help:"Print version and exit."`
}

// Validate checks the argument combinations kong cannot express.
func (c *CLI) Validate(kctx *kong.Context) error {
	if c.Output != "" && len(c.Files) > 1 {
		return fmt.Errorf("--output requires exactly one input file, got %d", len(c.Files))
	}
	for _, f := range c.Files {
		if f == "-" && len(c.Files) > 1 {
			return fmt.Errorf("stdin (-) cannot be combined with other inputs")
		}
	}
	if c.Ext == "" && c.Output == "" && !c.Force {
		return fmt.Errorf("empty --ext would overwrite the input; use --force")
	}
	return nil
}

// exitError carries the process exit code for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps err to a pngquant exit code.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, quant.ErrQualityTooLow):
		return exitTooLowQuality
	}
	switch pngquant.KindOf(err) {
	case pngquant.KindDecode:
		return exitReadError
	case pngquant.KindInvalidParameter:
		return exitInvalidArgument
	}
	return exitCantWrite
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var cli CLI
	exited, code := false, exitOK
	parser, err := kong.New(&cli,
		kong.Name("pngquant"),
		kong.Description("Convert images to palette-indexed 8-bit PNG files."),
		kong.Vars{"version": fmt.Sprintf("pngquant %s (commit %s, built %s)", version, commit, buildDate)},
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { exited, code = true, c }),
	)
	if err != nil {
		fmt.Fprintf(stderr, "pngquant: %v\n", err)
		return exitMissingArgument
	}
	_, err = parser.Parse(args)
	if exited {
		return code
	}
	if err != nil {
		fmt.Fprintf(stderr, "pngquant: %v\n", err)
		return exitMissingArgument
	}

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if cli.CPUProfile != "" {
		f, err := os.Create(cli.CPUProfile)
		if err != nil {
			logger.Error("creating CPU profile", "error", err)
			return exitCantWrite
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Error("starting CPU profile", "error", err)
			return exitCantWrite
		}
		defer pprof.StopCPUProfile()
		logger.Debug("CPU profiling enabled", "file", cli.CPUProfile)
	}
	if cli.MemProfile != "" {
		defer writeMemProfile(logger, cli.MemProfile)
	}

	opts, err := cli.options()
	if err != nil {
		logger.Error("invalid options", "error", err)
		return exitInvalidArgument
	}
	if len(cli.Files) == 0 {
		fmt.Fprintln(stderr, "pngquant: no input files (use --help for usage)")
		return exitMissingArgument
	}

	p := pngquant.New()
	p.Logger = logger
	if enc := encoderForLevel(cli.Level); enc != nil {
		p.Encoder = enc
	}

	jobs := make([]batch.Job, len(cli.Files))
	for i, f := range cli.Files {
		jobs[i] = batch.Job{Index: i, Input: f, Output: cli.outputPath(f)}
	}

	c := &converter{
		pipeline:     p,
		opts:         opts,
		force:        cli.Force,
		skipIfLarger: cli.SkipIfLarger,
		stdin:        stdin,
		stdout:       stdout,
		logger:       logger,
	}

	logger.Debug("starting",
		"version", version,
		"files", len(jobs),
		"quality", fmt.Sprintf("%d-%d", opts.QualityMin, opts.QualityMax),
		"speed", opts.Speed,
		"colors", opts.Colors(),
		"dither", !opts.NoDither,
		"concurrency", cli.Concurrency)

	start := time.Now()
	stats, failures := batch.Run(batch.Config{
		Concurrency: cli.Concurrency,
		Progress:    cli.Progress && jobs[0].Output != "-",
		ProgressOut: stderr,
	}, jobs, c.convert)

	code = exitOK
	for _, f := range failures {
		logger.Error("conversion failed", "file", f.Job.Input, "error", f.Err)
		code = exitCode(f.Err)
	}

	logger.Debug("done",
		"converted", stats.Converted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"input", batch.HumanSize(stats.InBytes),
		"output", batch.HumanSize(stats.OutBytes),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return code
}

// options turns the flags into quantization options.
func (c *CLI) options() (pngquant.Options, error) {
	opts := pngquant.DefaultOptions()
	opts.Speed = c.Speed
	opts.MaxColors = c.Colors
	opts.NoDither = c.NoFS
	if c.Quality != "" {
		qmin, qmax, err := parseQuality(c.Quality)
		if err != nil {
			return opts, err
		}
		opts.QualityMin, opts.QualityMax = qmin, qmax
	}
	return opts, opts.Validate()
}

// parseQuality accepts "min-max", "min-", "-max" and "max". A lone number
// sets the target and a minimum of 90% of it.
func parseQuality(s string) (qmin, qmax uint8, err error) {
	lo, hi, hasDash := strings.Cut(s, "-")
	parse := func(v string, def int) (int, error) {
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > quant.MaxQuality {
			return 0, fmt.Errorf("invalid quality %q: want 0-%d", v, quant.MaxQuality)
		}
		return n, nil
	}

	if !hasDash {
		n, err := parse(lo, -1)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid quality %q", s)
		}
		return uint8(n * 9 / 10), uint8(n), nil
	}
	if lo == "" && hi == "" {
		return 0, 0, fmt.Errorf("invalid quality %q", s)
	}
	l, err := parse(lo, 0)
	if err != nil {
		return 0, 0, err
	}
	h, err := parse(hi, quant.MaxQuality)
	if err != nil {
		return 0, 0, err
	}
	// Range order is checked by Options.Validate.
	return uint8(l), uint8(h), nil
}

// outputPath derives the destination of input.
func (c *CLI) outputPath(input string) string {
	if c.Output != "" {
		return c.Output
	}
	if input == "-" {
		return "-"
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if c.Ext == "" {
		return input
	}
	return base + c.Ext
}

func encoderForLevel(level string) pngquant.Encoder {
	var l indexpng.CompressionLevel
	switch level {
	case "none":
		l = indexpng.NoCompression
	case "speed":
		l = indexpng.BestSpeed
	case "default":
		l = indexpng.DefaultCompression
	case "best":
		l = indexpng.BestCompression
	default:
		return nil
	}
	return &indexpng.Encoder{CompressionLevel: l}
}

type converter struct {
	pipeline     *pngquant.Pipeline
	opts         pngquant.Options
	force        bool
	skipIfLarger bool
	stdin        io.Reader
	stdout       io.Writer
	logger       *slog.Logger
}

func (c *converter) convert(job batch.Job) (batch.Outcome, error) {
	logger := c.logger.With("file", job.Input)

	if job.Output != "-" && !c.force {
		if _, err := os.Stat(job.Output); err == nil {
			return batch.Outcome{}, withCode(exitNotOverwriting,
				fmt.Errorf("%s exists, not overwriting (use --force)", job.Output))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return batch.Outcome{}, withCode(exitCantWrite, fmt.Errorf("stat %s: %w", job.Output, err))
		}
	}

	data, err := c.read(job.Input)
	if err != nil {
		return batch.Outcome{}, withCode(exitReadError, err)
	}
	out := batch.Outcome{InBytes: int64(len(data))}

	res, err := c.pipeline.Run(data, c.opts)
	if err != nil {
		return out, err
	}
	logger.Debug("quantized",
		"format", res.Format,
		"size", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"colors", res.Colors,
		"quality", res.Quality,
		"transparent", res.Transparent)

	if c.skipIfLarger && len(res.PNG) > len(data) {
		return out, withCode(exitTooLarge,
			fmt.Errorf("result is %s, larger than the %s input", batch.HumanSize(int64(len(res.PNG))), batch.HumanSize(out.InBytes)))
	}

	if err := c.write(job.Output, res.PNG); err != nil {
		return out, withCode(exitCantWrite, err)
	}
	out.OutBytes = int64(len(res.PNG))
	logger.Info("written", "output", job.Output, "bytes", batch.HumanSize(out.OutBytes))
	return out, nil
}

func (c *converter) read(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return data, nil
}

// write stores data at path through a temporary file in the same directory,
// so a failed write never leaves a truncated PNG behind.
func (c *converter) write(path string, data []byte) error {
	if path == "-" {
		_, err := io.Copy(c.stdout, bytes.NewReader(data))
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pngquant-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}

func writeMemProfile(logger *slog.Logger, path string) {
	f, err := os.Create(path)
	if err != nil {
		logger.Error("creating memory profile", "error", err)
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		logger.Error("writing memory profile", "error", err)
		return
	}
	logger.Debug("memory profile written", "file", path)
}
