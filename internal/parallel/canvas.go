package parallel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
)

// ErrTileSize is returned when a pixel buffer does not hold exactly
// width*height RGBA pixels.
var ErrTileSize = errors.New("parallel: pixel buffer does not match tile size")

// Canvas is an RGBA frame buffer that tiles are composited onto.
//
// Thread safety: Canvas is safe for concurrent use.
type Canvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// NewCanvas creates a canvas of the given size.
// A non-positive size gives an empty canvas.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{}
	c.Resize(width, height)
	return c
}

// Resize leaves a transparent canvas of the new size. A same-size resize
// clears the existing buffer.
func (c *Canvas) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)

	c.mu.Lock()
	same := c.img != nil && c.img.Rect.Dx() == width && c.img.Rect.Dy() == height
	if !same {
		c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	c.mu.Unlock()

	if same {
		c.Clear(color.Transparent)
	}
}

// Clear fills the whole canvas with col.
func (c *Canvas) Clear(col color.Color) {
	rgba := colorToRGBA(col)

	c.mu.Lock()
	defer c.mu.Unlock()
	pix := c.img.Pix
	for i := 0; i < len(pix); i += 4 {
		copy(pix[i:i+4], rgba[:])
	}
}

// DrawTile copies a w x h RGBA pixel buffer to canvas offset (x, y).
// Rows and columns that fall outside the canvas are clipped.
func (c *Canvas) DrawTile(x, y, w, h int, pixels []byte) error {
	if w <= 0 || h <= 0 || len(pixels) != w*h*4 {
		return fmt.Errorf("%w: %dx%d tile, %d bytes", ErrTileSize, w, h, len(pixels))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dst := c.img
	width, height := dst.Rect.Dx(), dst.Rect.Dy()
	srcStride := w * 4

	// Clip the column range once; rows are clipped in the loop.
	x0 := max(x, 0)
	x1 := min(x+w, width)
	if x0 >= x1 {
		return nil
	}
	copyLen := (x1 - x0) * 4
	srcCol := (x0 - x) * 4

	for row := range h {
		canvasY := y + row
		if canvasY < 0 {
			continue
		}
		if canvasY >= height {
			break
		}

		dstOffset := canvasY*dst.Stride + x0*4
		srcOffset := row*srcStride + srcCol
		copy(dst.Pix[dstOffset:dstOffset+copyLen], pixels[srcOffset:srcOffset+copyLen])
	}
	return nil
}

// Image returns a copy of the current frame.
func (c *Canvas) Image() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// colorToRGBA converts a color.Color to RGBA bytes.
func colorToRGBA(c color.Color) [4]byte {
	r, g, b, a := c.RGBA()
	return [4]byte{
		byte(r >> 8),
		byte(g >> 8),
		byte(b >> 8),
		byte(a >> 8),
	}
}
