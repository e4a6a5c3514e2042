// Package parallel provides the tile scheduling infrastructure for fractile.
//
// A frame is divided into a fixed rows x cols grid of tiles. Each tile becomes
// one Job that a WorkerPool dispatches to a long-lived Worker; results are
// joined with JoinAll and composited onto a Canvas. Key pieces:
//
//   - Partition: lazy, restartable row-major tiling of a rectangle
//   - TileGrid: the materialised tile set of one reset
//   - WorkerPool: init handshake, idle set, FIFO backlog, one job per worker
//   - Future and JoinAll: per-job results and the batch barrier
//   - Canvas and DirtyRegion: compositing target and repaint tracking
//
// Thread safety: WorkerPool, Future and Canvas are safe for concurrent use.
// TileGrid and Partition values are plain data.
package parallel

import (
	"image"
	"iter"
)

// Default grid layout.
const (
	// DefaultRows is the default number of tile rows per frame.
	DefaultRows = 8

	// DefaultCols is the default number of tile columns per frame.
	DefaultCols = 5
)

// Tile is a rectangular region of the canvas computed as one unit of work.
//
// Tiles are immutable values in intrinsic (device) pixel coordinates. The
// tiles of one frame never overlap and together cover the canvas exactly.
type Tile struct {
	// X is the left edge in canvas pixels.
	X int

	// Y is the top edge in canvas pixels.
	Y int

	// Width is the tile width in pixels. Last-column tiles absorb the remainder.
	Width int

	// Height is the tile height in pixels. Last-row tiles absorb the remainder.
	Height int

	// Row is the tile row index (0-based).
	Row int

	// Col is the tile column index (0-based).
	Col int
}

// Bounds returns the pixel bounds of this tile in canvas space.
// Returns (x, y, width, height) where x,y is the top-left corner.
func (t Tile) Bounds() (x, y, w, h int) {
	return t.X, t.Y, t.Width, t.Height
}

// Rect returns the tile bounds as an image.Rectangle.
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Contains returns true if the canvas-space pixel (cx, cy) is within this tile.
func (t Tile) Contains(cx, cy int) bool {
	return cx >= t.X && cx < t.X+t.Width &&
		cy >= t.Y && cy < t.Y+t.Height
}

// ByteSize returns the size of the tile's RGBA pixels in bytes.
func (t Tile) ByteSize() int {
	return t.Width * t.Height * 4
}

// Partition divides a width x height rectangle into rows x cols tiles.
//
// Column width is ceil(width/cols) and row height is ceil(height/rows); the
// last column and row take whatever remains. Tiles are yielded row by row,
// left to right. The sequence is lazy and may be ranged over any number of
// times with identical results.
//
// Non-positive arguments yield nothing. When the ceil layout runs out of
// pixels before the last row or column (e.g. 5 pixels split into 4 rows),
// the empty trailing tiles are skipped and the previous ones are clipped to
// the rectangle, so no tile ever has a zero or negative extent.
func Partition(width, height, rows, cols int) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		if width <= 0 || height <= 0 || rows <= 0 || cols <= 0 {
			return
		}

		colWidth := ceilDiv(width, cols)
		rowHeight := ceilDiv(height, rows)

		for r := range rows {
			y := r * rowHeight
			h := min(rowHeight, height-y)
			if r == rows-1 {
				h = height - y
			}
			if h <= 0 {
				return
			}
			for c := range cols {
				x := c * colWidth
				w := min(colWidth, width-x)
				if c == cols-1 {
					w = width - x
				}
				if w <= 0 {
					break
				}
				if !yield(Tile{X: x, Y: y, Width: w, Height: h, Row: r, Col: c}) {
					return
				}
			}
		}
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
