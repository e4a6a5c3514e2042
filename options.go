package fractile

import (
	"time"

	"github.com/gogpu/fractile/internal/parallel"
	"github.com/gogpu/fractile/internal/worker"
)

// Option defaults.
const (
	// DefaultQuietPeriod is how long Resize and RequestReset wait for input
	// to settle before resetting.
	DefaultQuietPeriod = 256 * time.Millisecond

	// DefaultDisplayWidth and DefaultDisplayHeight are the client area
	// assumed until Resize is called.
	DefaultDisplayWidth  = 1280
	DefaultDisplayHeight = 800
)

// Option configures an Explorer during creation.
// Use functional options to customize Explorer behavior.
//
// Example:
//
//	// Default native kernel on GOMAXPROCS workers
//	ex, err := fractile.NewExplorer(ctx)
//
//	// WebAssembly kernel on 4 workers, 16x10 tiles
//	ex, err := fractile.NewExplorer(ctx,
//	    fractile.WithWorkers(4),
//	    fractile.WithGrid(10, 16),
//	    fractile.WithWasmKernel(wasm),
//	)
type Option func(*options)

// options holds optional configuration for Explorer creation.
type options struct {
	workers      int
	rows, cols   int
	quiet        time.Duration
	batchTimeout time.Duration

	clientW, clientH, dpr float64

	view    View
	surface Surface
	onFrame func(FrameInfo)

	wasm        []byte
	wasmTimeout time.Duration
	process     *worker.ProcessConfig

	// factory overrides kernel selection; tests inject fake workers.
	factory parallel.WorkerFactory
}

// defaultOptions returns the default explorer options.
func defaultOptions() options {
	return options{
		workers: 0, // GOMAXPROCS
		rows:    parallel.DefaultRows,
		cols:    parallel.DefaultCols,
		quiet:   DefaultQuietPeriod,
		clientW: DefaultDisplayWidth,
		clientH: DefaultDisplayHeight,
		dpr:     1,
		view:    DefaultView(),
	}
}

// WithWorkers sets the number of workers. Zero or negative means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithGrid sets the tile layout used at every reset.
// Non-positive values keep the default of 8 rows and 5 columns.
func WithGrid(rows, cols int) Option {
	return func(o *options) {
		if rows > 0 {
			o.rows = rows
		}
		if cols > 0 {
			o.cols = cols
		}
	}
}

// WithQuietPeriod sets the reset debounce window.
func WithQuietPeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.quiet = d
		}
	}
}

// WithBatchTimeout bounds how long a batch may take to join. A batch that
// exceeds it is discarded and the next render may start; its jobs keep
// running and their results are ignored.
//
// The default of zero waits forever, so a worker that never answers stalls
// rendering.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.batchTimeout = d
	}
}

// WithDisplay sets the initial client area and device pixel ratio.
func WithDisplay(clientW, clientH, dpr float64) Option {
	return func(o *options) {
		o.clientW, o.clientH = clientW, clientH
		if dpr > 0 {
			o.dpr = dpr
		}
	}
}

// WithView sets the view a reset returns to. The aspect ratio is
// recomputed from the viewport at every reset, and MaxIterations is capped
// at MaxIterationsLimit.
func WithView(v View) Option {
	return func(o *options) {
		if v.MaxIterations > 0 {
			v.setMaxIterations(v.MaxIterations)
		}
		o.view = v
	}
}

// WithWasmKernel computes tiles with a WebAssembly module instead of the
// native kernel. Each worker instantiates the module once.
func WithWasmKernel(wasm []byte) Option {
	return func(o *options) {
		o.wasm = wasm
	}
}

// WithWasmTimeout bounds each WebAssembly tile computation. A tile that
// runs past it fails, and the worker instantiates the module again before
// its next tile.
func WithWasmTimeout(d time.Duration) Option {
	return func(o *options) {
		o.wasmTimeout = d
	}
}

// WithProcessWorkers runs every worker as a child process. The executable
// must serve the worker protocol on stdin and stdout, as
// "fractile worker" does.
//
// Example:
//
//	ex, err := fractile.NewExplorer(ctx,
//	    fractile.WithProcessWorkers("/usr/local/bin/fractile", "worker"),
//	)
func WithProcessWorkers(path string, args ...string) Option {
	return func(o *options) {
		o.process = &worker.ProcessConfig{Path: path, Args: args}
	}
}

// WithSurface composites tiles onto s instead of the built-in canvas.
// Frame and Preview return nil unless s also provides Image.
func WithSurface(s Surface) Option {
	return func(o *options) {
		o.surface = s
	}
}

// WithFrameHandler registers fn to run after every composited batch.
// It runs on the render goroutine; Render calls made from fn are coalesced.
//
// fn may call Close. It must not call Flush with a context that never
// expires: the batch that produced the frame stays in flight until fn
// returns, so such a Flush blocks forever.
func WithFrameHandler(fn func(FrameInfo)) Option {
	return func(o *options) {
		o.onFrame = fn
	}
}

// withWorkerFactory replaces kernel selection with factory.
func withWorkerFactory(factory parallel.WorkerFactory) Option {
	return func(o *options) {
		o.factory = factory
	}
}
