package fractile

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Preview returns the current frame with the last frame drawn over it
// scaled by ds about the canvas center and shifted by (dx, dy) client
// units. It approximates the next frame while a batch is still computing.
// Preview returns nil if the surface cannot provide a frame.
func (e *Explorer) Preview(ds, dx, dy float64) *image.RGBA {
	src := e.Frame()
	if src == nil {
		return nil
	}

	e.mu.Lock()
	dpr, ratio := e.dpr, e.view.Ratio
	e.mu.Unlock()

	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)

	b := src.Bounds()
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	tx, ty := dx*dpr, dy*dpr*ratio

	// p' = ds*(p + t - c) + c
	s2d := f64.Aff3{
		ds, 0, ds*(tx-cx) + cx,
		0, ds, ds*(ty-cy) + cy,
	}
	draw.ApproxBiLinear.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}
