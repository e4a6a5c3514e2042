// Package fractile renders Mandelbrot-family fractals interactively by
// splitting each frame into tiles and computing them on a fixed pool of
// workers.
//
// # Overview
//
// An [Explorer] owns the view (center, scale, exponent, iteration limit),
// the tile layout of the current canvas and a worker pool. Every view change
// asks for a render; the Explorer turns the canvas into one job per tile,
// sends the batch to the pool and composites the results once all of them
// have arrived. No partial frame is ever drawn.
//
// # Quick Start
//
//	ex, err := fractile.NewExplorer(ctx, fractile.WithDisplay(1280, 800, 1))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ex.Close()
//
//	ex.Render()
//	if err := ex.Flush(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	img := ex.Frame()
//
// # Scheduling
//
// At most one batch is in flight per Explorer. Render calls made while a
// batch is running collapse into a single follow-up batch. Window resizes
// are debounced: a burst of [Explorer.Resize] calls produces one reset after
// the quiet period. Each reset advances the reset epoch and re-tiles the
// canvas; a batch that finishes after a reset is discarded without drawing.
//
// # Workers
//
// Tiles are computed by a native Go kernel by default. [WithWasmKernel] runs
// a WebAssembly kernel instead, one instance per worker, and
// [WithProcessWorkers] runs each worker as a child process speaking a
// length-prefixed msgpack protocol on stdin and stdout.
//
// # Logging
//
// fractile is silent by default. Call [SetLogger] to receive structured
// logs from the explorer, the pool and the workers.
package fractile

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"
)
