package parallel

import "slices"

// TileGrid holds the tile set of one canvas layout.
//
// A grid is rebuilt whenever the canvas is re-fitted; its tiles are never
// mutated in place, so a batch that captured the previous tile slice keeps a
// consistent view of the layout it was built from. Tiles are stored in a flat
// row-major slice.
//
// Thread safety: TileGrid is NOT thread-safe. The owner serializes Resize
// against readers.
type TileGrid struct {
	// tiles is a flat slice of all tiles (row-major order).
	tiles []Tile

	// rows and cols are the requested layout.
	rows, cols int

	// width is the canvas width in pixels.
	width int

	// height is the canvas height in pixels.
	height int
}

// NewTileGrid creates a tile grid dividing a width x height canvas into
// rows x cols tiles. A non-positive size gives an empty grid.
// Non-positive rows or cols fall back to DefaultRows and DefaultCols.
func NewTileGrid(width, height, rows, cols int) *TileGrid {
	if rows <= 0 {
		rows = DefaultRows
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	g := &TileGrid{rows: rows, cols: cols}
	g.Resize(width, height)
	return g
}

// Resize re-partitions the grid for a new canvas size.
// The previous tile slice is replaced, not modified.
func (g *TileGrid) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		g.tiles = nil
		g.width = 0
		g.height = 0
		return
	}

	g.width = width
	g.height = height
	g.tiles = slices.Collect(Partition(width, height, g.rows, g.cols))
}

// Tiles returns the current tile set.
// The returned slice is shared and must not be modified.
func (g *TileGrid) Tiles() []Tile {
	return g.tiles
}

// TileAt returns the tile at grid coordinates (col, row).
// Returns false if coordinates are out of bounds.
func (g *TileGrid) TileAt(col, row int) (Tile, bool) {
	i := g.index(col, row)
	if i < 0 {
		return Tile{}, false
	}
	return g.tiles[i], true
}

// index returns the slice index of (col, row), or -1.
func (g *TileGrid) index(col, row int) int {
	if col < 0 || col >= g.cols || row < 0 || row >= g.rows {
		return -1
	}
	i := row*g.cols + col
	if i >= len(g.tiles) || g.tiles[i].Row != row || g.tiles[i].Col != col {
		// Degenerate layouts drop trailing tiles; fall back to a scan.
		for j, t := range g.tiles {
			if t.Row == row && t.Col == col {
				return j
			}
		}
		return -1
	}
	return i
}

// TileAtPixel returns the tile containing the canvas pixel (px, py).
// Returns false if the pixel is outside the canvas.
func (g *TileGrid) TileAtPixel(px, py int) (Tile, bool) {
	if px < 0 || px >= g.width || py < 0 || py >= g.height || len(g.tiles) == 0 {
		return Tile{}, false
	}
	colWidth := ceilDiv(g.width, g.cols)
	rowHeight := ceilDiv(g.height, g.rows)
	t, ok := g.TileAt(min(px/colWidth, g.cols-1), min(py/rowHeight, g.rows-1))
	if !ok || !t.Contains(px, py) {
		return Tile{}, false
	}
	return t, true
}

// TileCount returns the total number of tiles in the grid.
func (g *TileGrid) TileCount() int {
	return len(g.tiles)
}

// Rows returns the number of tile rows in the layout.
func (g *TileGrid) Rows() int {
	return g.rows
}

// Cols returns the number of tile columns in the layout.
func (g *TileGrid) Cols() int {
	return g.cols
}

// Width returns the canvas width in pixels.
func (g *TileGrid) Width() int {
	return g.width
}

// Height returns the canvas height in pixels.
func (g *TileGrid) Height() int {
	return g.height
}

// ForEach calls fn for each tile in the grid.
// Tiles are visited in row-major order (left-to-right, top-to-bottom).
func (g *TileGrid) ForEach(fn func(t Tile)) {
	for _, t := range g.tiles {
		fn(t)
	}
}
