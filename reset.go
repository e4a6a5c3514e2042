package fractile

import (
	"sync"
	"time"

	"github.com/gogpu/fractile/internal/parallel"
)

// debouncer runs fire once input has been quiet for the configured period.
// Every trigger rearms the single timer; only the last one in a burst fires.
type debouncer struct {
	quiet time.Duration
	fire  func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func newDebouncer(quiet time.Duration, fire func()) *debouncer {
	return &debouncer{quiet: quiet, fire: fire}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	// A timer that already fired may still be waiting on the lock; the
	// generation check makes it a no-op.
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		live := gen == d.gen && !d.stopped
		d.mu.Unlock()
		if live {
			d.fire()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}

// RequestReset schedules a reset after the quiet period. Calls within the
// period replace each other; only the last one resets.
func (e *Explorer) RequestReset() {
	e.resets.trigger()
}

// Resize records a new client area and schedules a reset.
func (e *Explorer) Resize(clientW, clientH, dpr float64) {
	e.mu.Lock()
	e.clientW, e.clientH = clientW, clientH
	if dpr > 0 {
		e.dpr = dpr
	}
	e.mu.Unlock()

	e.RequestReset()
}

// ResetNow performs one reset immediately and renders.
//
// The view returns to its initial state (the colour mode is kept), the
// canvas is refitted to the client area, the reset epoch advances and the
// tiles are recomputed. Batches still in flight become stale.
func (e *Explorer) ResetNow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.resetLocked()
	e.renderLocked()
}

func (e *Explorer) resetLocked() {
	view := e.home
	view.Grayscale = e.view.Grayscale

	vp := Fit(e.clientW, e.clientH, e.dpr, view.Ratio)
	if vp.Empty() {
		Logger().Error("fractile: invalid canvas size", "client_width", e.clientW, "client_height", e.clientH)
	} else {
		view.Ratio = vp.Ratio
		if vp.Portrait {
			view.Scale *= 2
		}
	}

	e.epoch++
	e.view = view
	if e.grid == nil {
		e.grid = parallel.NewTileGrid(vp.Width, vp.Height, e.rows, e.cols)
	} else {
		e.grid.Resize(vp.Width, vp.Height)
	}
	if e.unpainted.Cols() == e.grid.Cols() && e.unpainted.Rows() == e.grid.Rows() {
		e.unpainted.Clear()
	} else {
		e.unpainted = parallel.NewDirtyRegion(e.grid.Cols(), e.grid.Rows())
	}
	e.grid.ForEach(func(t parallel.Tile) {
		e.unpainted.Mark(t.Col, t.Row)
	})
	e.surface.Resize(vp.Width, vp.Height)

	Logger().Info("fractile: reset", "epoch", e.epoch, "width", vp.Width, "height", vp.Height, "tiles", e.grid.TileCount())
}
