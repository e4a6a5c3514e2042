package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool errors.
var (
	// ErrNotReady is returned for jobs submitted before every worker has
	// completed initialization.
	ErrNotReady = errors.New("parallel: pool not ready")

	// ErrPoolClosed is returned for jobs outstanding or submitted after Close.
	ErrPoolClosed = errors.New("parallel: pool closed")

	// ErrProtocol reports a worker message that breaks the init/render
	// protocol. It is fatal for the pool.
	ErrProtocol = errors.New("parallel: worker protocol violation")

	// ErrWorkerLost is returned for a job whose worker became unreachable.
	ErrWorkerLost = errors.New("parallel: worker lost")

	// ErrNoWorkers is returned once every worker has been lost.
	ErrNoWorkers = errors.New("parallel: no live workers")
)

// WorkerPool dispatches jobs to a fixed set of long-lived workers.
//
// Startup is a two-phase handshake: every worker is started and must send
// exactly one MessageInit before the pool accepts jobs (see AwaitReady).
// After that, Submit hands a job to any idle worker or appends it to a FIFO
// backlog; a worker that finishes takes the oldest backlog job without
// becoming idle. At most Workers() jobs run at once and each worker holds at
// most one job.
//
// All pool state is owned by a single loop goroutine fed by one channel of
// submissions and one channel of worker events, so no locks guard it.
//
// A failed job rejects only its own Future; the worker stays in the pool.
// A worker whose message stream closes is evicted and not replaced.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers are the pool's compute contexts, indexed by id.
	workers []Worker

	// submits carries new jobs to the loop.
	submits chan record

	// events carries worker messages, tagged with the worker index.
	events chan event

	// closing signals the loop to shut down.
	closing chan struct{}

	// done is closed when the loop has exited.
	done chan struct{}

	// ready is closed once readiness is decided; readyErr holds the outcome.
	ready    chan struct{}
	readyErr error

	// cancel stops the workers' context.
	cancel context.CancelFunc

	// wg waits for the forwarding goroutines.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool

	// Counters mirrored from loop state for introspection.
	live   atomic.Int32
	idle   atomic.Int32
	queued atomic.Int32

	// failure is the fatal error, if any.
	failure atomic.Pointer[error]
}

// record is a pending job: the job and the future settled by its outcome.
type record struct {
	job Job
	fut *Future
}

// event is a worker message or the end of a worker's stream.
type event struct {
	worker int
	msg    Message
	lost   bool
}

// handle is the loop's view of one worker.
type handle struct {
	w      Worker
	inited bool
	dead   bool
	job    *record
}

// NewWorkerPool creates n workers with factory and starts them.
// If n is 0 or negative, GOMAXPROCS is used.
//
// Workers run under a context derived from ctx that is canceled by Close.
// Call AwaitReady before submitting jobs.
func NewWorkerPool(ctx context.Context, n int, factory WorkerFactory) (*WorkerPool, error) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		workers: make([]Worker, 0, n),
		submits: make(chan record),
		events:  make(chan event, n),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		cancel:  cancel,
	}

	for i := range n {
		w, err := factory(i)
		if err == nil {
			p.workers = append(p.workers, w)
			err = w.Start(ctx)
		}
		if err != nil {
			cancel()
			for _, w := range p.workers {
				_ = w.Close()
			}
			return nil, fmt.Errorf("parallel: start worker %d: %w", i, err)
		}
		slogger().Debug("pool: worker started", "worker", w.ID())
	}

	p.running.Store(true)
	p.live.Store(int32(n)) //nolint:gosec // n is a worker count

	// Forwarders tag each worker's messages with its index.
	p.wg.Add(n)
	for i, w := range p.workers {
		go p.forward(i, w)
	}

	go p.loop()
	return p, nil
}

// forward relays one worker's messages to the loop until the stream closes.
func (p *WorkerPool) forward(id int, w Worker) {
	defer p.wg.Done()
	msgs := w.Messages()
	for {
		select {
		case msg, ok := <-msgs:
			ev := event{worker: id, msg: msg, lost: !ok}
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
			if !ok {
				return
			}
		case <-p.done:
			return
		}
	}
}

// AwaitReady blocks until every worker has sent MessageInit.
// It returns the init failure or protocol violation that prevented
// readiness, ErrPoolClosed if the pool was closed first, or ctx.Err().
func (p *WorkerPool) AwaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return p.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues job for execution and returns its Future.
//
// A job submitted before readiness, after Close, or after a fatal failure
// is rejected immediately; Submit itself never blocks on a busy pool.
func (p *WorkerPool) Submit(job Job) *Future {
	f := newFuture(job)
	select {
	case p.submits <- record{job: job, fut: f}:
	case <-p.done:
		f.reject(ErrPoolClosed)
	}
	return f
}

// SubmitAll submits jobs in order and returns their futures.
func (p *WorkerPool) SubmitAll(jobs []Job) []*Future {
	futures := make([]*Future, len(jobs))
	for i, job := range jobs {
		futures[i] = p.Submit(job)
	}
	return futures
}

// dispatcher is the loop-owned pool state.
type dispatcher struct {
	p       *WorkerPool
	handles []handle
	idle    []int
	backlog []record
	inited  int
	isReady bool
	failed  error
}

// loop owns all dispatch state until the pool closes.
func (p *WorkerPool) loop() {
	defer close(p.done)

	d := &dispatcher{p: p, handles: make([]handle, len(p.workers))}
	for i, w := range p.workers {
		d.handles[i].w = w
	}

	for {
		select {
		case rec := <-p.submits:
			d.submit(rec)
		case ev := <-p.events:
			d.handle(ev)
		case <-p.closing:
			d.rejectAll(ErrPoolClosed)
			d.settleReady(ErrPoolClosed)
			return
		}
		d.publish()
	}
}

func (d *dispatcher) submit(rec record) {
	switch {
	case d.failed != nil:
		rec.fut.reject(d.failed)
	case !d.isReady:
		rec.fut.reject(ErrNotReady)
	case d.liveCount() == 0:
		rec.fut.reject(ErrNoWorkers)
	case len(d.idle) > 0:
		id := d.idle[len(d.idle)-1]
		d.idle = d.idle[:len(d.idle)-1]
		d.dispatch(id, rec)
	default:
		d.backlog = append(d.backlog, rec)
	}
}

func (d *dispatcher) handle(ev event) {
	h := &d.handles[ev.worker]
	if h.dead {
		return
	}
	if ev.lost {
		d.lose(ev.worker, fmt.Errorf("%w: %s: message stream closed", ErrWorkerLost, h.w.ID()))
		return
	}
	if d.failed != nil {
		return
	}

	switch ev.msg.Kind {
	case MessageInit:
		d.init(ev.worker, ev.msg.Err)
	case MessageRender, MessageError:
		d.complete(ev.worker, ev.msg)
	default:
		d.fail(fmt.Errorf("%w: %s: unknown message kind %s", ErrProtocol, h.w.ID(), ev.msg.Kind))
	}
}

func (d *dispatcher) init(id int, initErr error) {
	h := &d.handles[id]
	if h.inited {
		d.fail(fmt.Errorf("%w: %s: init received twice", ErrProtocol, h.w.ID()))
		return
	}
	if initErr != nil {
		d.fail(fmt.Errorf("parallel: %s: init: %w", h.w.ID(), initErr))
		return
	}

	h.inited = true
	d.inited++
	d.idle = append(d.idle, id)
	slogger().Debug("pool: worker ready", "worker", h.w.ID(), "ready", d.inited, "workers", len(d.handles))

	if d.inited == len(d.handles) {
		d.isReady = true
		d.settleReady(nil)
		slogger().Info("pool: ready", "workers", len(d.handles))
	}
}

func (d *dispatcher) complete(id int, msg Message) {
	h := &d.handles[id]
	if !h.inited {
		d.fail(fmt.Errorf("%w: %s: %s before init", ErrProtocol, h.w.ID(), msg.Kind))
		return
	}
	rec := h.job
	if rec == nil {
		d.fail(fmt.Errorf("%w: %s: %s with no pending job", ErrProtocol, h.w.ID(), msg.Kind))
		return
	}
	if msg.Kind == MessageRender && !matches(rec.job, msg.Result) {
		d.fail(fmt.Errorf("%w: %s: result for batch %d does not match pending batch %d",
			ErrProtocol, h.w.ID(), msg.Result.BatchID, rec.job.BatchID))
		return
	}
	h.job = nil

	// Hand the oldest backlog job to the same worker before settling.
	if len(d.backlog) > 0 {
		next := d.backlog[0]
		d.backlog[0] = record{}
		d.backlog = d.backlog[1:]
		d.dispatch(id, next)
	} else {
		d.idle = append(d.idle, id)
	}

	if msg.Kind == MessageError {
		err := msg.Err
		if err == nil {
			err = errors.New("worker reported failure")
		}
		slogger().Debug("pool: job failed", "worker", h.w.ID(), "batch", rec.job.BatchID, "err", err)
		rec.fut.reject(fmt.Errorf("parallel: %s: %w", h.w.ID(), err))
		return
	}
	rec.fut.resolve(msg.Result)
}

// matches reports whether r answers job.
func matches(job Job, r Result) bool {
	return r.BatchID == job.BatchID &&
		r.ResetEpoch == job.ResetEpoch &&
		r.TileLeft == job.Params.TileLeft &&
		r.TileTop == job.Params.TileTop
}

// dispatch attaches rec to worker id and posts it.
func (d *dispatcher) dispatch(id int, rec record) {
	h := &d.handles[id]
	h.job = &rec
	if err := h.w.Post(rec.job); err != nil {
		d.lose(id, fmt.Errorf("%w: %s: post: %w", ErrWorkerLost, h.w.ID(), err))
	}
}

// lose evicts worker id, rejecting its job with err.
func (d *dispatcher) lose(id int, err error) {
	h := &d.handles[id]
	h.dead = true
	d.p.live.Add(-1)
	d.idle = removeID(d.idle, id)
	slogger().Warn("pool: worker lost", "worker", h.w.ID(), "err", err)

	if h.job != nil {
		h.job.fut.reject(err)
		h.job = nil
	}
	if !h.inited && !d.isReady {
		d.fail(err)
		return
	}
	if d.liveCount() == 0 {
		for _, rec := range d.backlog {
			rec.fut.reject(ErrNoWorkers)
		}
		d.backlog = nil
	}
}

// fail makes err fatal: readiness fails and all outstanding work is rejected.
func (d *dispatcher) fail(err error) {
	if d.failed != nil {
		return
	}
	d.failed = err
	d.p.failure.Store(&err)
	slogger().Error("pool: failed", "err", err)
	d.rejectAll(err)
	d.settleReady(err)
}

func (d *dispatcher) rejectAll(err error) {
	for i := range d.handles {
		if rec := d.handles[i].job; rec != nil {
			rec.fut.reject(err)
			d.handles[i].job = nil
		}
	}
	for _, rec := range d.backlog {
		rec.fut.reject(err)
	}
	d.backlog = nil
	d.idle = nil
}

func (d *dispatcher) settleReady(err error) {
	select {
	case <-d.p.ready:
	default:
		d.p.readyErr = err
		close(d.p.ready)
	}
}

func (d *dispatcher) liveCount() int {
	n := 0
	for i := range d.handles {
		if !d.handles[i].dead {
			n++
		}
	}
	return n
}

// publish mirrors loop state into the atomic counters.
func (d *dispatcher) publish() {
	d.p.idle.Store(int32(len(d.idle)))       //nolint:gosec // bounded by worker count
	d.p.queued.Store(int32(len(d.backlog))) //nolint:gosec // bounded by submitted jobs
}

func removeID(ids []int, id int) []int {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Close shuts down the pool.
// Outstanding and later jobs are rejected with ErrPoolClosed, then every
// worker is closed. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		// Already closed
		return
	}

	close(p.closing)
	<-p.done

	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			slogger().Warn("pool: close worker", "worker", w.ID(), "err", err)
		}
	}
	p.cancel()
	p.wg.Wait()
}

// Workers returns the number of workers the pool was created with.
func (p *WorkerPool) Workers() int {
	return len(p.workers)
}

// LiveWorkers returns the number of workers that have not been lost.
func (p *WorkerPool) LiveWorkers() int {
	return int(p.live.Load())
}

// IdleWorkers returns the number of ready workers without a job.
func (p *WorkerPool) IdleWorkers() int {
	return int(p.idle.Load())
}

// IsRunning returns true if the pool has not been closed.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns the number of jobs waiting in the backlog.
func (p *WorkerPool) QueuedWork() int {
	return int(p.queued.Load())
}

// Err returns the fatal error that stopped the pool, or nil.
func (p *WorkerPool) Err() error {
	if e := p.failure.Load(); e != nil {
		return *e
	}
	return nil
}
