package parallel

import (
	"math/bits"
	"sync/atomic"
)

// DirtyRegion tracks which tiles of the current layout still show pixels
// from an earlier layout, using an atomic bitmap.
//
// A reset marks every tile; compositing a tile clears its bit. Tiles dropped
// from a batch (failed, stale or corrupt) stay marked until a later batch
// paints them.
//
// The bitmap uses one bit per tile, packed into uint64 words (64 tiles per word).
// All methods are safe for concurrent use without external synchronization.
type DirtyRegion struct {
	// words is the atomic bitmap where each bit represents a tile's dirty state.
	// Bit index = row * cols + col
	words []atomic.Uint64

	// cols is the number of tile columns.
	cols int

	// rows is the number of tile rows.
	rows int
}

// NewDirtyRegion creates a tracker for a cols x rows layout.
// All tiles start as clean. Returns nil if dimensions are invalid.
func NewDirtyRegion(cols, rows int) *DirtyRegion {
	if cols <= 0 || rows <= 0 {
		return nil
	}

	totalTiles := cols * rows
	numWords := (totalTiles + 63) / 64 // Ceiling division

	return &DirtyRegion{
		words: make([]atomic.Uint64, numWords),
		cols:  cols,
		rows:  rows,
	}
}

// bit returns the word index and mask of (col, row), or ok=false.
func (d *DirtyRegion) bit(col, row int) (word int, mask uint64, ok bool) {
	if d == nil || col < 0 || col >= d.cols || row < 0 || row >= d.rows {
		return 0, 0, false
	}
	idx := row*d.cols + col
	return idx / 64, 1 << (idx & 63), true
}

// Mark marks a single tile as dirty.
// Does nothing if coordinates are out of bounds.
func (d *DirtyRegion) Mark(col, row int) {
	if w, m, ok := d.bit(col, row); ok {
		d.words[w].Or(m)
	}
}

// Unmark clears a single tile's dirty flag.
// Does nothing if coordinates are out of bounds.
func (d *DirtyRegion) Unmark(col, row int) {
	if w, m, ok := d.bit(col, row); ok {
		d.words[w].And(^m)
	}
}

// Clear clears all dirty flags.
func (d *DirtyRegion) Clear() {
	if d == nil {
		return
	}
	for i := range d.words {
		d.words[i].Store(0)
	}
}

// IsEmpty returns true if no tiles are marked as dirty.
func (d *DirtyRegion) IsEmpty() bool {
	return d.Count() == 0
}

// Count returns the number of tiles marked as dirty.
func (d *DirtyRegion) Count() int {
	if d == nil {
		return 0
	}
	count := 0
	for i := range d.words {
		count += bits.OnesCount64(d.words[i].Load())
	}
	return count
}

// Cols returns the number of tile columns, or 0 for a nil region.
func (d *DirtyRegion) Cols() int {
	if d == nil {
		return 0
	}
	return d.cols
}

// Rows returns the number of tile rows, or 0 for a nil region.
func (d *DirtyRegion) Rows() int {
	if d == nil {
		return 0
	}
	return d.rows
}
