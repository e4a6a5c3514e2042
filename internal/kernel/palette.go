package kernel

import "math"

// PaletteSize is the number of entries in each colour table.
// Escape counts beyond it wrap around.
const PaletteSize = 1024

// Palette maps an escape count to an opaque RGBA colour.
type Palette [PaletteSize][4]byte

var (
	colors = buildPalette(func(h float64) (r, g, b byte) {
		return wave(h*23*2*math.Pi, 0), wave(h*17*2*math.Pi, 2), wave(h*17*2*math.Pi, 3)
	})
	shades = buildPalette(func(h float64) (r, g, b byte) {
		s := wave(h*23*2*math.Pi, 0)
		return s, s, s
	})
)

// Colors returns the colour table.
func Colors() *Palette { return &colors }

// Shades returns the grayscale table.
func Shades() *Palette { return &shades }

// At returns the colour for escape count n.
func (p *Palette) At(n int) [4]byte {
	return p[n%PaletteSize]
}

func buildPalette(fn func(h float64) (r, g, b byte)) Palette {
	var p Palette
	for i := range p {
		r, g, b := fn(float64(i) / PaletteSize)
		p[i] = [4]byte{r, g, b, 255}
	}
	return p
}

// wave maps sin(x+phase) from [-1,1] onto a byte.
func wave(x, phase float64) byte {
	v := math.Sin(x+phase)*128 + 128
	return byte(min(max(v, 0), 255))
}
