// Package palette splits an RGBA palette into the parallel color and alpha
// tables stored in the PLTE and tRNS chunks of an indexed PNG.
package palette

import "image/color"

// MaxEntries is the largest palette an 8-bit indexed PNG can address.
const MaxEntries = 256

// Tables holds a palette as PNG stores it. Entry i of RGB (3 bytes) and of
// Alpha (1 byte) describe the same color.
type Tables struct {
	RGB   []byte
	Alpha []byte
	// HasTransparency is true iff some entry has alpha < 255.
	HasTransparency bool
}

// Len returns the number of palette entries.
func (t Tables) Len() int { return len(t.Alpha) }

// Split converts p into Tables, in palette order. Colors are read as
// non-premultiplied 8-bit values.
func Split(p color.Palette) Tables {
	t := Tables{
		RGB:   make([]byte, 0, 3*len(p)),
		Alpha: make([]byte, 0, len(p)),
	}
	for _, c := range p {
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		t.RGB = append(t.RGB, n.R, n.G, n.B)
		t.Alpha = append(t.Alpha, n.A)
		if n.A < 0xff {
			t.HasTransparency = true
		}
	}
	return t
}

// Palette rebuilds the NRGBA palette described by t.
func (t Tables) Palette() color.Palette {
	p := make(color.Palette, t.Len())
	for i := range p {
		p[i] = color.NRGBA{R: t.RGB[3*i], G: t.RGB[3*i+1], B: t.RGB[3*i+2], A: t.Alpha[i]}
	}
	return p
}
