package fractile

import "image"

// Surface is the compositing target of an Explorer.
//
// DrawTile copies a tile's RGBA pixels (width*height*4 bytes, row-major)
// to (x, y). The pixel buffer is reused after DrawTile returns, so a
// Surface must not retain it.
type Surface interface {
	Resize(width, height int)
	DrawTile(x, y, width, height int, pixels []byte) error
}

// imageSource is implemented by surfaces that can snapshot their contents.
type imageSource interface {
	Image() *image.RGBA
}
