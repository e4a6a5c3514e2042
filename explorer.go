package fractile

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/fractile/internal/kernel"
	"github.com/gogpu/fractile/internal/parallel"
	"github.com/gogpu/fractile/internal/wasmkernel"
	"github.com/gogpu/fractile/internal/worker"
)

// FrameInfo describes one composited batch.
type FrameInfo struct {
	BatchID  uint64
	Epoch    uint64
	TraceID  string
	Tiles    int
	Dropped  int
	Duration time.Duration

	// Complete is true once every tile of the current layout has been
	// drawn since the last reset.
	Complete bool
}

// Stats counts what happened to the Explorer's batches.
type Stats struct {
	// Batches is the number of batches submitted.
	Batches uint64

	// Composited batches were drawn.
	Composited uint64

	// Stale batches finished after a reset and were discarded.
	Stale uint64

	// Failed batches had at least one failed tile or timed out.
	Failed uint64

	// Coalesced counts Render calls folded into a pending follow-up.
	Coalesced uint64

	// DroppedTiles counts tiles left out of composited batches.
	DroppedTiles uint64

	// IdleWorkers and QueuedJobs are a snapshot of the worker pool.
	IdleWorkers int
	QueuedJobs  int
}

// Explorer renders a view of the fractal onto a surface using a worker
// pool.
//
// All methods are safe for concurrent use. At most one batch is in flight
// at a time; see Render.
type Explorer struct {
	pool    *parallel.WorkerPool
	module  *wasmkernel.Module
	surface Surface
	onFrame func(FrameInfo)
	resets  *debouncer

	rows, cols   int
	batchTimeout time.Duration
	home         View

	// ctx bounds background joins; canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	view      View
	clientW   float64
	clientH   float64
	dpr       float64
	grid      *parallel.TileGrid
	unpainted *parallel.DirtyRegion
	batchID   uint64
	epoch     uint64
	inFlight  bool
	wantsMore bool
	idle      chan struct{} // closed while no batch is in flight
	closed    bool
	stats     Stats
}

// batch is one render cycle's jobs.
type batch struct {
	id      uint64
	epoch   uint64
	traceID string
	tiles   []parallel.Tile
	jobs    []parallel.Job
}

// NewExplorer starts a worker pool, waits until every worker is ready and
// fits the canvas to the configured display. It does not render; call
// Render once the Explorer is set up.
func NewExplorer(ctx context.Context, opts ...Option) (*Explorer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	factory := o.factory
	var module *wasmkernel.Module
	if factory == nil {
		var err error
		factory, module, err = kernelFactory(ctx, &o)
		if err != nil {
			return nil, err
		}
	}

	pool, err := parallel.NewWorkerPool(ctx, o.workers, factory)
	if err == nil {
		if err = pool.AwaitReady(ctx); err != nil {
			pool.Close()
		}
	}
	if err != nil {
		if module != nil {
			_ = module.Close(ctx)
		}
		return nil, fmt.Errorf("fractile: start workers: %w", err)
	}

	surface := o.surface
	if surface == nil {
		surface = parallel.NewCanvas(0, 0)
	}

	idle := make(chan struct{})
	close(idle)

	e := &Explorer{
		pool:         pool,
		module:       module,
		surface:      surface,
		onFrame:      o.onFrame,
		rows:         o.rows,
		cols:         o.cols,
		batchTimeout: o.batchTimeout,
		home:         o.view,
		view:         o.view,
		clientW:      o.clientW,
		clientH:      o.clientH,
		dpr:          o.dpr,
		idle:         idle,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.resets = newDebouncer(o.quiet, e.ResetNow)

	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()

	Logger().Info("fractile: explorer ready", "workers", pool.Workers(), "rows", e.rows, "cols", e.cols)
	return e, nil
}

// kernelFactory picks the worker implementation described by o.
func kernelFactory(ctx context.Context, o *options) (parallel.WorkerFactory, *wasmkernel.Module, error) {
	switch {
	case o.process != nil:
		cfg := *o.process
		return func(id int) (parallel.Worker, error) {
			return worker.NewProcess(id, cfg), nil
		}, nil, nil

	case len(o.wasm) > 0:
		var mopts []wasmkernel.Option
		if o.wasmTimeout > 0 {
			mopts = append(mopts, wasmkernel.WithTimeout(o.wasmTimeout))
		}
		module, err := wasmkernel.Compile(ctx, o.wasm, mopts...)
		if err != nil {
			return nil, nil, fmt.Errorf("fractile: load wasm kernel: %w", err)
		}
		return func(id int) (parallel.Worker, error) {
			return worker.NewLocal(id, module.Init), nil
		}, module, nil

	default:
		return func(id int) (parallel.Worker, error) {
			return worker.NewLocal(id, worker.Native), nil
		}, nil, nil
	}
}

// Render draws the current view.
//
// If a batch is already in flight, Render only records that another render
// is wanted and returns; any number of such calls produce exactly one
// follow-up batch once the current one finishes. Otherwise Render submits
// one job per tile and returns without waiting. Use Flush to wait.
//
// Render does nothing while the canvas has no pixels or after Close.
func (e *Explorer) Render() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderLocked()
}

func (e *Explorer) renderLocked() {
	if e.closed {
		return
	}
	if e.inFlight {
		e.wantsMore = true
		e.stats.Coalesced++
		return
	}
	if e.grid == nil || e.grid.TileCount() == 0 {
		return
	}

	e.batchID++
	b := &batch{
		id:      e.batchID,
		epoch:   e.epoch,
		traceID: uuid.NewString(),
		tiles:   e.grid.Tiles(),
	}
	view := e.view.Params(e.grid.Width(), e.grid.Height())
	b.jobs = make([]parallel.Job, len(b.tiles))
	for i, t := range b.tiles {
		b.jobs[i] = parallel.NewJob(b.id, b.epoch, t, view)
	}

	e.inFlight = true
	e.idle = make(chan struct{})
	e.stats.Batches++

	Logger().Debug("fractile: batch submitted", "batch", b.id, "epoch", b.epoch, "trace", b.traceID, "tiles", len(b.jobs))

	e.wg.Add(1)
	go e.run(b)
}

// run joins one batch and hands it to finish.
func (e *Explorer) run(b *batch) {
	start := time.Now()
	futures := e.pool.SubmitAll(b.jobs)

	ctx := e.ctx
	if e.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.batchTimeout)
		defer cancel()
	}
	results, err := parallel.JoinAll(ctx, futures)
	if err != nil && ctx.Err() == nil {
		for _, f := range futures {
			if _, ferr := f.Wait(ctx); ferr != nil {
				p := f.Job().Params
				Logger().Debug("fractile: tile failed", "batch", b.id, "x", p.TileLeft, "y", p.TileTop, "err", ferr)
			}
		}
	}

	e.finish(b, results, err, time.Since(start))
}

// finish validates a joined batch, composites it if it is current, and
// starts the coalesced follow-up if one was requested.
//
// The batch leaves e.wg before the frame handler runs, so a handler may
// call Close.
func (e *Explorer) finish(b *batch, results []parallel.Result, err error, elapsed time.Duration) {
	e.mu.Lock()
	var info *FrameInfo
	switch {
	case e.closed:
	case err != nil:
		e.stats.Failed++
		Logger().Warn("fractile: batch discarded", "batch", b.id, "trace", b.traceID, "err", err)
	case !current(results, e.epoch):
		e.stats.Stale++
		Logger().Debug("fractile: stale batch discarded", "batch", b.id, "batch_epoch", b.epoch, "epoch", e.epoch)
	default:
		dropped := e.compositeLocked(b, results)
		e.stats.Composited++
		e.stats.DroppedTiles += uint64(dropped) //nolint:gosec // dropped <= tile count
		info = &FrameInfo{
			BatchID:  b.id,
			Epoch:    b.epoch,
			TraceID:  b.traceID,
			Tiles:    len(results) - dropped,
			Dropped:  dropped,
			Duration: elapsed,
			Complete: e.unpainted.IsEmpty(),
		}
	}
	onFrame := e.onFrame
	e.mu.Unlock()

	for _, r := range results {
		kernel.PutBuffer(r.Pixels)
	}
	e.wg.Done()

	// The batch stays in flight until the handler returns, so Flush also
	// waits for it and Render calls made from it are coalesced.
	if info != nil && onFrame != nil {
		onFrame(*info)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	if e.wantsMore {
		e.wantsMore = false
		e.renderLocked()
	}
	if !e.inFlight {
		close(e.idle)
	}
}

// current reports whether every result carries the current epoch.
func current(results []parallel.Result, epoch uint64) bool {
	for _, r := range results {
		if r.ResetEpoch != epoch {
			return false
		}
	}
	return true
}

// compositeLocked draws every result and returns how many were dropped.
func (e *Explorer) compositeLocked(b *batch, results []parallel.Result) int {
	dropped := 0
	for i, r := range results {
		t := b.tiles[i]
		if err := checkResult(t, r); err != nil {
			Logger().Error("fractile: tile dropped", "batch", b.id, "x", t.X, "y", t.Y, "err", err)
			dropped++
			continue
		}
		x, y, w, h := t.Bounds()
		if err := e.surface.DrawTile(x, y, w, h, r.Pixels); err != nil {
			Logger().Error("fractile: tile dropped",
				"batch", b.id, "x", x, "y", y, "err", fmt.Errorf("%w: %w", ErrIntegrity, err))
			dropped++
			continue
		}
		e.unpainted.Unmark(t.Col, t.Row)
	}
	return dropped
}

// checkResult reports whether r covers exactly tile t with a full pixel
// buffer.
func checkResult(t parallel.Tile, r parallel.Result) error {
	got := image.Rect(r.TileLeft, r.TileTop, r.TileLeft+r.Width, r.TileTop+r.Height)
	if got != t.Rect() {
		return fmt.Errorf("%w: result covers %v, tile is %v", ErrIntegrity, got, t.Rect())
	}
	if len(r.Pixels) != t.ByteSize() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrIntegrity, len(r.Pixels), t.ByteSize())
	}
	return nil
}

// Flush waits until no batch is in flight and no follow-up is pending.
// Called from the frame handler it can only return through ctx, since the
// handler's own batch is still in flight.
func (e *Explorer) Flush(ctx context.Context) error {
	for {
		e.mu.Lock()
		if !e.inFlight {
			e.mu.Unlock()
			return nil
		}
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Frame returns a snapshot of the composited canvas, or nil if the surface
// cannot provide one.
func (e *Explorer) Frame() *image.RGBA {
	if src, ok := e.surface.(imageSource); ok {
		return src.Image()
	}
	return nil
}

// Stats returns the batch counters and a snapshot of the worker pool.
func (e *Explorer) Stats() Stats {
	e.mu.Lock()
	st := e.stats
	e.mu.Unlock()

	st.IdleWorkers = e.pool.IdleWorkers()
	st.QueuedJobs = e.pool.QueuedWork()
	return st
}

// View returns the current view.
func (e *Explorer) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Epoch returns the reset epoch.
func (e *Explorer) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Size returns the intrinsic canvas size.
func (e *Explorer) Size() (width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return 0, 0
	}
	return e.grid.Width(), e.grid.Height()
}

// Unpainted returns the number of tiles of the current layout that no
// batch has drawn since the last reset.
func (e *Explorer) Unpainted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unpainted.Count()
}

// Workers returns the number of live workers, or 0 after Close.
func (e *Explorer) Workers() int {
	if !e.pool.IsRunning() {
		return 0
	}
	return e.pool.LiveWorkers()
}

// Close stops resets and rendering, rejects the in-flight batch and shuts
// the workers down. Close is idempotent and may be called from the frame
// handler. It does not wait for a frame handler that is still running.
func (e *Explorer) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.wantsMore = false
	e.mu.Unlock()

	e.resets.stop()
	e.pool.Close()
	e.cancel()
	e.wg.Wait()

	var err error
	if e.module != nil {
		err = e.module.Close(context.Background())
	}
	if perr := e.pool.Err(); perr != nil && !errors.Is(perr, parallel.ErrPoolClosed) {
		Logger().Warn("fractile: pool failed before close", "err", perr)
	}
	Logger().Info("fractile: explorer closed")
	return err
}
