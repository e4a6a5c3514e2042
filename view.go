package fractile

import (
	"math"

	"github.com/gogpu/fractile/internal/kernel"
)

// View defaults.
const (
	// DefaultMaxIterations is the iteration limit of a fresh view.
	DefaultMaxIterations = 128

	// MaxIterationsLimit caps the iteration limit at one pass through the
	// colour table.
	MaxIterationsLimit = kernel.PaletteSize

	// DefaultPower is the exponent of the classic Mandelbrot set.
	DefaultPower = 2

	// panDelta is the fraction of the scale moved by one pan step.
	panDelta = 0.1

	// zoomStep is the scale factor of one zoom-in step.
	zoomStep = 0.96

	// bigZoomSteps is how many zoom steps ZoomInBig takes at once.
	bigZoomSteps = 12
)

// View is the part of the complex plane being rendered and how.
type View struct {
	// CenterX and CenterY are the complex coordinates of the canvas center.
	CenterX, CenterY float64

	// Scale is the zoom level; 1 shows the whole set at the default ratio.
	Scale float64

	// Ratio is the width/height aspect ratio of the canvas.
	Ratio float64

	// Power is the exponent in z = z^Power + c.
	Power int

	// MaxIterations bounds the escape-time iteration.
	MaxIterations int

	// Grayscale selects the shade table instead of the colour table.
	Grayscale bool
}

// DefaultView returns the view a reset starts from.
func DefaultView() View {
	x, y := homeCenter(DefaultPower)
	return View{
		CenterX:       x,
		CenterY:       y,
		Scale:         1,
		Ratio:         math.Phi,
		Power:         DefaultPower,
		MaxIterations: DefaultMaxIterations,
	}
}

// homeCenter is where the set of exponent power is best framed.
func homeCenter(power int) (float64, float64) {
	if power == 2 {
		return -0.6, 0
	}
	return 0, 0
}

// Params returns kernel parameters for a canvas of the given size.
// Tile geometry is left zero; jobs fill it per tile.
func (v View) Params(canvasWidth, canvasHeight int) kernel.Params {
	return kernel.Params{
		CanvasWidth:   canvasWidth,
		CanvasHeight:  canvasHeight,
		MaxIterations: v.MaxIterations,
		CenterX:       v.CenterX,
		CenterY:       v.CenterY,
		Scale:         v.Scale,
		Ratio:         v.Ratio,
		Power:         v.Power,
		Grayscale:     v.Grayscale,
	}
}

// PixelToComplex maps a canvas pixel to the complex plane.
func (v View) PixelToComplex(x, y float64, canvasWidth, canvasHeight int) complex128 {
	p := v.Params(canvasWidth, canvasHeight)
	return kernel.PointAt(&p, x, y)
}

func (v *View) panBy(dx, dy float64) {
	v.CenterX += dx * v.Scale
	v.CenterY += dy * v.Scale
}

func (v *View) zoomBy(ds float64) {
	v.Scale *= ds
}

func (v *View) centerOn(z complex128) {
	v.CenterX, v.CenterY = real(z), imag(z)
}

// setMaxIterations clamps n to [1, MaxIterationsLimit].
func (v *View) setMaxIterations(n int) {
	v.MaxIterations = max(1, min(n, MaxIterationsLimit))
}

// setPower changes the exponent and returns to the home framing.
func (v *View) setPower(power int) {
	v.Power = power
	v.Scale = 1
	v.CenterX, v.CenterY = homeCenter(power)
}
