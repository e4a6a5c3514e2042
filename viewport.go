package fractile

import "math"

// fitFraction is the share of the client area the canvas may use.
const fitFraction = 0.8

// Viewport is the canvas size chosen for a client area.
type Viewport struct {
	// Width and Height are the intrinsic canvas size in device pixels.
	Width, Height int

	// DisplayWidth and DisplayHeight are the size in client units.
	DisplayWidth, DisplayHeight float64

	// Ratio is DisplayWidth/DisplayHeight.
	Ratio float64

	// Portrait is set when the client area is taller than wide; the view
	// then starts zoomed out by a factor of 2.
	Portrait bool
}

// Empty reports whether the viewport has no pixels.
func (vp Viewport) Empty() bool {
	return vp.Width <= 0 || vp.Height <= 0
}

// Fit sizes the canvas for a client area of clientW x clientH at the given
// device pixel ratio, keeping the aspect ratio within ratio.
//
// In landscape the width is clamped to height*ratio; in portrait the height
// is clamped to width*ratio. A client area without pixels gives an empty
// Viewport.
func Fit(clientW, clientH, dpr, ratio float64) Viewport {
	if dpr <= 0 {
		dpr = 1
	}
	w := fitFraction * clientW
	h := fitFraction * clientH
	if w <= 0 || h <= 0 {
		return Viewport{}
	}

	var vp Viewport
	if w > h {
		w = math.Min(h*ratio, w)
	} else {
		h = math.Min(w*ratio, h)
		vp.Portrait = true
	}

	vp.DisplayWidth = w
	vp.DisplayHeight = h
	vp.Ratio = w / h
	vp.Width = int(math.Floor(w * dpr))
	vp.Height = int(math.Floor(h * dpr))
	return vp
}
