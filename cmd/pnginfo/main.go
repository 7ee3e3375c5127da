package main

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/pspoerri/pngquant/internal/indexpng"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: pnginfo <file.png>\n")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("File: %s\n", os.Args[1])
	if err := describe(os.Stdout, data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// describe prints the chunk structure of a PNG and, for indexed images,
// palette usage and a few sample pixels.
func describe(w io.Writer, data []byte) error {
	info, err := indexpng.Inspect(data)
	if err != nil {
		return err
	}

	h := info.Header
	fmt.Fprintf(w, "Size: %d x %d\n", h.Width, h.Height)
	fmt.Fprintf(w, "Color type: %s, bit depth %d, interlace %d\n", indexpng.ColorTypeName(h.ColorType), h.BitDepth, h.InterlaceMethod)
	fmt.Fprintf(w, "Palette: %d entries\n", info.PaletteEntries)
	if info.HasTransparency() {
		fmt.Fprintf(w, "Transparency: %d entries\n", info.TransparencyEntries)
	} else {
		fmt.Fprintf(w, "Transparency: none\n")
	}
	fmt.Fprintf(w, "Image data: %d IDAT chunk(s), %d bytes\n", info.IDATChunks, info.IDATBytes)

	fmt.Fprintf(w, "\nChunks:\n")
	for i, c := range info.Chunks {
		fmt.Fprintf(w, "  %2d %s %8d bytes  crc %08x OK\n", i, c.Type, len(c.Data), c.CRC)
	}

	if h.ColorType != indexpng.ColorTypeIndexed {
		return nil
	}

	tables, err := info.Tables()
	if err != nil {
		return err
	}
	pix, err := info.Indices()
	if err != nil {
		fmt.Fprintf(w, "\nIndices: ERROR: %v\n", err)
		return nil
	}

	used := make([]int, tables.Len())
	for _, v := range pix {
		if int(v) >= len(used) {
			return fmt.Errorf("index %d outside palette of %d entries", v, len(used))
		}
		used[v]++
	}
	unused := 0
	for _, n := range used {
		if n == 0 {
			unused++
		}
	}
	fmt.Fprintf(w, "\nIndices: %d pixels, %d of %d palette entries used\n", len(pix), len(used)-unused, len(used))

	samplePixels(w, pix, int(h.Width), int(h.Height), tables.Palette(), 5)
	return nil
}

func samplePixels(w io.Writer, pix []byte, width, height int, pal color.Palette, count int) {
	step := width / (count + 1)
	if step < 1 {
		step = 1
	}
	fmt.Fprintf(w, "  Sample pixels (diagonal):\n")
	for i := 0; i < count; i++ {
		x := (i + 1) * step
		y := (i + 1) * step
		if x >= width || y >= height {
			break
		}
		idx := pix[y*width+x]
		c := color.NRGBAModel.Convert(pal[idx]).(color.NRGBA)
		fmt.Fprintf(w, "    (%d,%d): index %d R=%d G=%d B=%d A=%d\n", x, y, idx, c.R, c.G, c.B, c.A)
	}
}
