package fractile

import "math"

// mutate applies fn to the view and renders the result.
func (e *Explorer) mutate(fn func(v *View)) {
	e.mutateOnCanvas(func(v *View, _, _ int) bool {
		fn(v)
		return true
	})
}

// mutateOnCanvas is mutate for changes that depend on the canvas size.
// fn runs under the same lock as the render it triggers and returns false
// to skip rendering.
func (e *Explorer) mutateOnCanvas(fn func(v *View, w, h int) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	w, h := 0, 0
	if e.grid != nil {
		w, h = e.grid.Width(), e.grid.Height()
	}
	if fn(&e.view, w, h) {
		e.renderLocked()
	}
}

// PanLeft moves the view left by a tenth of the scale.
func (e *Explorer) PanLeft() { e.mutate(func(v *View) { v.panBy(-panDelta, 0) }) }

// PanRight moves the view right by a tenth of the scale.
func (e *Explorer) PanRight() { e.mutate(func(v *View) { v.panBy(panDelta, 0) }) }

// PanUp moves the view up by a tenth of the scale.
func (e *Explorer) PanUp() { e.mutate(func(v *View) { v.panBy(0, panDelta) }) }

// PanDown moves the view down by a tenth of the scale.
func (e *Explorer) PanDown() { e.mutate(func(v *View) { v.panBy(0, -panDelta) }) }

// ZoomIn zooms in by one step.
func (e *Explorer) ZoomIn() { e.mutate(func(v *View) { v.zoomBy(zoomStep) }) }

// ZoomInBig zooms in by twelve steps at once.
func (e *Explorer) ZoomInBig() {
	e.mutate(func(v *View) { v.zoomBy(math.Pow(zoomStep, bigZoomSteps)) })
}

// ZoomOut zooms out by one step.
func (e *Explorer) ZoomOut() { e.mutate(func(v *View) { v.zoomBy(1 / zoomStep) }) }

// ToggleGrayscale switches between the colour and shade tables.
func (e *Explorer) ToggleGrayscale() {
	e.mutate(func(v *View) { v.Grayscale = !v.Grayscale })
}

// IncrementPower changes the exponent by n and returns to the home framing
// for the new exponent. Exponents below 2 are ignored.
func (e *Explorer) IncrementPower(n int) {
	e.mutate(func(v *View) {
		if v.Power+n >= 2 {
			v.setPower(v.Power + n)
		}
	})
}

// SetMaxIterations sets the iteration limit, capped at MaxIterationsLimit.
// Non-positive values are ignored.
func (e *Explorer) SetMaxIterations(n int) {
	e.mutate(func(v *View) {
		if n > 0 {
			v.setMaxIterations(n)
		}
	})
}

// DoubleIterations doubles the iteration limit up to MaxIterationsLimit.
func (e *Explorer) DoubleIterations() {
	e.mutateOnCanvas(func(v *View, _, _ int) bool {
		if v.MaxIterations >= MaxIterationsLimit {
			return false
		}
		v.setMaxIterations(v.MaxIterations * 2)
		return true
	})
}

// HalveIterations halves the iteration limit down to 1.
func (e *Explorer) HalveIterations() {
	e.mutateOnCanvas(func(v *View, _, _ int) bool {
		if v.MaxIterations <= 1 {
			return false
		}
		v.setMaxIterations(v.MaxIterations / 2)
		return true
	})
}

// PanBy moves the view by a drag of (dx, dy) canvas pixels: the point under
// the pointer stays under it.
func (e *Explorer) PanBy(dx, dy float64) {
	e.mutateOnCanvas(func(v *View, w, h int) bool {
		if w == 0 || h == 0 {
			return false
		}
		origin := v.PixelToComplex(0, 0, w, h)
		moved := v.PixelToComplex(dx, dy, w, h)
		v.CenterX -= real(moved) - real(origin)
		v.CenterY -= imag(moved) - imag(origin)
		return true
	})
}

// CenterOn moves the canvas pixel (x, y) to the center of the view.
// Points outside the canvas are ignored.
func (e *Explorer) CenterOn(x, y int) {
	e.mutateOnCanvas(func(v *View, w, h int) bool {
		return e.centerOnLocked(v, x, y, w, h)
	})
}

// ZoomInAt centers the view on canvas pixel (x, y) and zooms in by twelve
// steps. Points outside the canvas are ignored.
func (e *Explorer) ZoomInAt(x, y int) {
	e.mutateOnCanvas(func(v *View, w, h int) bool {
		if !e.centerOnLocked(v, x, y, w, h) {
			return false
		}
		v.zoomBy(math.Pow(zoomStep, bigZoomSteps))
		return true
	})
}

func (e *Explorer) centerOnLocked(v *View, x, y, w, h int) bool {
	if e.grid == nil {
		return false
	}
	if _, ok := e.grid.TileAtPixel(x, y); !ok {
		return false
	}
	v.centerOn(v.PixelToComplex(float64(x), float64(y), w, h))
	return true
}

// PixelToComplex maps a canvas pixel of the current view to the complex
// plane.
func (e *Explorer) PixelToComplex(x, y float64) complex128 {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, h := 0, 0
	if e.grid != nil {
		w, h = e.grid.Width(), e.grid.Height()
	}
	return e.view.PixelToComplex(x, y, w, h)
}
