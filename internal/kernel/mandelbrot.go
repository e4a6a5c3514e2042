package kernel

import (
	"context"
)

// bailout is the squared escape radius.
const bailout = 4.0

// Mandelbrot is the native escape-time kernel for z = z^power + c.
//
// Points that do not escape within MaxIterations are opaque black; the rest
// are coloured from the colour or grayscale table. A tile whose whole border
// stays bounded is returned black without iterating the interior, since the
// Mandelbrot-family sets are simply connected.
type Mandelbrot struct{}

// NewMandelbrot returns the native kernel. Its construction is free, so it
// also serves as the kernel of choice for in-process workers.
func NewMandelbrot() *Mandelbrot { return &Mandelbrot{} }

// Compute implements Kernel.
func (m *Mandelbrot) Compute(ctx context.Context, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	buf := GetBuffer(p.ByteSize())

	if perimeterBounded(&p) {
		fillBlack(buf)
		return buf, nil
	}

	table := Colors()
	if p.Grayscale {
		table = Shades()
	}

	off := 0
	for y := range p.TileHeight {
		if err := ctx.Err(); err != nil {
			PutBuffer(buf)
			return nil, err
		}
		for x := range p.TileWidth {
			n := Escape(&p, x, y)
			if n >= p.MaxIterations {
				copy(buf[off:off+4], black[:])
			} else {
				c := table.At(n)
				copy(buf[off:off+4], c[:])
			}
			off += BytesPerPixel
		}
	}
	return buf, nil
}

var black = [4]byte{0, 0, 0, 255}

func fillBlack(buf []byte) {
	for i := 0; i < len(buf); i += BytesPerPixel {
		copy(buf[i:i+4], black[:])
	}
}

// Escape returns the escape count of tile pixel (x, y).
func Escape(p *Params, x, y int) int {
	c := PointAt(p, float64(p.TileLeft+x), float64(p.TileTop+y))
	var z complex128
	n := 0
	for n < p.MaxIterations && norm2(z) < bailout {
		z = powi(z, p.Power) + c
		n++
	}
	return n
}

// PointAt maps canvas pixel (px, py) to the complex plane.
// The real axis is stretched by Ratio and the imaginary axis points up.
func PointAt(p *Params, px, py float64) complex128 {
	re := p.CenterX + p.Ratio*(px/float64(p.CanvasWidth)-0.5)*3*p.Scale
	im := p.CenterY - (py/float64(p.CanvasHeight)-0.5)*3*p.Scale
	return complex(re, im)
}

func norm2(z complex128) float64 {
	return real(z)*real(z) + imag(z)*imag(z)
}

// powi raises z to an integer power by squaring.
func powi(z complex128, n int) complex128 {
	if n < 0 {
		return 1 / powi(z, -n)
	}
	r := complex(1, 0)
	for n > 0 {
		if n&1 == 1 {
			r *= z
		}
		z *= z
		n >>= 1
	}
	return r
}

// perimeterBounded reports whether every border pixel of the tile reaches
// the iteration limit.
func perimeterBounded(p *Params) bool {
	w, h := p.TileWidth, p.TileHeight
	for x := range w {
		if Escape(p, x, 0) < p.MaxIterations || Escape(p, x, h-1) < p.MaxIterations {
			return false
		}
	}
	for y := 1; y < h-1; y++ {
		if Escape(p, 0, y) < p.MaxIterations || Escape(p, w-1, y) < p.MaxIterations {
			return false
		}
	}
	return true
}
