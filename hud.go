package fractile

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const hudMargin = 8

// HUDLines returns the overlay text for v.
func HUDLines(v View) []string {
	p := message.NewPrinter(language.English)
	return []string{
		p.Sprintf("Exponent: %d", v.Power),
		p.Sprintf("Max iterations: %d", v.MaxIterations),
	}
}

// DrawHUD writes the exponent and iteration limit of v into the bottom-left
// corner of img.
func DrawHUD(img draw.Image, v View) {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()
	lines := HUDLines(v)

	b := img.Bounds()
	y := b.Max.Y - hudMargin - lineHeight*(len(lines)-1) - face.Metrics().Descent.Ceil()
	for _, line := range lines {
		// One-pixel shadow under the label.
		drawText(img, face, b.Min.X+hudMargin+1, y+1, color.Black, line)
		drawText(img, face, b.Min.X+hudMargin, y, color.White, line)
		y += lineHeight
	}
}

func drawText(img draw.Image, face font.Face, x, y int, c color.Color, s string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
