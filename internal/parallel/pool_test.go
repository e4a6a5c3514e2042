package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/fractile/internal/kernel"
)

// =============================================================================
// Test Worker
// =============================================================================

// fakeWorker is a scriptable Worker. By default it acknowledges init on
// Start and records posted jobs; the test completes them explicitly.
type fakeWorker struct {
	id      int
	msgs    chan Message
	posted  chan Job
	noInit  bool
	initErr error
	postErr error

	// echo, when set, answers every job from a goroutine.
	echo   func(Job) Message
	inbox  chan Job
	quit   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

func newFakeWorker(id int) *fakeWorker {
	return &fakeWorker{
		id:     id,
		msgs:   make(chan Message, 16),
		posted: make(chan Job, 16),
		inbox:  make(chan Job, 1),
		quit:   make(chan struct{}),
	}
}

func (w *fakeWorker) ID() string { return fmt.Sprintf("fake-%d", w.id) }

func (w *fakeWorker) Start(context.Context) error {
	if w.echo != nil {
		w.wg.Add(1)
		go w.run()
	}
	if !w.noInit {
		w.msgs <- Message{Kind: MessageInit, Err: w.initErr}
	}
	return nil
}

func (w *fakeWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.inbox:
			w.msgs <- w.echo(job)
		case <-w.quit:
			return
		}
	}
}

func (w *fakeWorker) Post(job Job) error {
	if w.postErr != nil {
		return w.postErr
	}
	if w.echo != nil {
		w.inbox <- job
		return nil
	}
	w.posted <- job
	return nil
}

func (w *fakeWorker) Messages() <-chan Message { return w.msgs }

func (w *fakeWorker) Close() error {
	w.closed.Do(func() {
		close(w.quit)
		w.wg.Wait()
		close(w.msgs)
	})
	return nil
}

func (w *fakeWorker) complete(job Job) {
	w.msgs <- Message{Kind: MessageRender, Result: ResultFor(job, make([]byte, job.Params.ByteSize()))}
}

func (w *fakeWorker) fail(job Job, err error) {
	w.msgs <- Message{Kind: MessageError, Result: ResultFor(job, nil), Err: err}
}

// recv returns the next job posted to w.
func (w *fakeWorker) recv(t *testing.T) Job {
	t.Helper()
	select {
	case job := <-w.posted:
		return job
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no job posted", w.ID())
		return Job{}
	}
}

func echoResult(job Job) Message {
	return Message{Kind: MessageRender, Result: ResultFor(job, make([]byte, job.Params.ByteSize()))}
}

func testJob(batch uint64) Job {
	return NewJob(batch, 1, Tile{X: int(batch), Width: 2, Height: 2}, kernel.Params{
		CanvasWidth: 100, CanvasHeight: 100, MaxIterations: 10,
	})
}

func newTestPool(t *testing.T, n int, configure func(*fakeWorker)) (*WorkerPool, []*fakeWorker) {
	t.Helper()
	workers := make([]*fakeWorker, n)
	p, err := NewWorkerPool(context.Background(), n, func(id int) (Worker, error) {
		w := newFakeWorker(id)
		if configure != nil {
			configure(w)
		}
		workers[id] = w
		return w, nil
	})
	if err != nil {
		t.Fatalf("NewWorkerPool() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p, workers
}

func awaitReady(t *testing.T, p *WorkerPool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func wait(t *testing.T, f *Future) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("future for batch %d never settled", f.Job().BatchID)
	}
	return r, err
}

// =============================================================================
// Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	p, _ := newTestPool(t, 4, nil)

	if p.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", p.Workers())
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}
	if p.LiveWorkers() != 4 {
		t.Errorf("LiveWorkers() = %d, want 4", p.LiveWorkers())
	}
}

func TestWorkerPool_CreateZeroWorkers(t *testing.T) {
	p, _ := newTestPool(t, 0, nil)

	expected := runtime.GOMAXPROCS(0)
	if p.Workers() != expected {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", p.Workers(), expected)
	}
}

func TestWorkerPool_CreateFactoryError(t *testing.T) {
	boom := errors.New("boom")
	var created []*fakeWorker
	_, err := NewWorkerPool(context.Background(), 3, func(id int) (Worker, error) {
		if id == 2 {
			return nil, boom
		}
		w := newFakeWorker(id)
		created = append(created, w)
		return w, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("NewWorkerPool() error = %v, want boom", err)
	}

	// Workers created before the failure are closed.
	for _, w := range created {
		if _, ok := <-w.msgs; ok {
			// Drain the init acknowledgement, then expect closure.
			if _, ok := <-w.msgs; ok {
				t.Errorf("%s not closed", w.ID())
			}
		}
	}
}

// =============================================================================
// Readiness Tests
// =============================================================================

func TestWorkerPool_AwaitReady(t *testing.T) {
	p, _ := newTestPool(t, 3, nil)
	awaitReady(t, p)

	waitFor(t, "all workers idle", func() bool { return p.IdleWorkers() == 3 })
}

func TestWorkerPool_SubmitBeforeReady(t *testing.T) {
	p, workers := newTestPool(t, 2, func(w *fakeWorker) { w.noInit = true })

	_, err := wait(t, p.Submit(testJob(1)))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Submit before ready error = %v, want ErrNotReady", err)
	}

	for _, w := range workers {
		w.msgs <- Message{Kind: MessageInit}
	}
	awaitReady(t, p)

	f := p.Submit(testJob(2))
	job := func() Job {
		select {
		case j := <-workers[0].posted:
			workers[0].complete(j)
			return j
		case j := <-workers[1].posted:
			workers[1].complete(j)
			return j
		case <-time.After(2 * time.Second):
			t.Fatal("job not dispatched after ready")
			return Job{}
		}
	}()
	if job.BatchID != 2 {
		t.Errorf("dispatched batch %d, want 2", job.BatchID)
	}
	if _, err := wait(t, f); err != nil {
		t.Errorf("Submit after ready error = %v", err)
	}
}

func TestWorkerPool_AwaitReadyContext(t *testing.T) {
	p, _ := newTestPool(t, 1, func(w *fakeWorker) { w.noInit = true })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.AwaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitReady() error = %v, want DeadlineExceeded", err)
	}
}

func TestWorkerPool_InitFailure(t *testing.T) {
	boom := errors.New("module load failed")
	p, _ := newTestPool(t, 2, func(w *fakeWorker) {
		if w.id == 1 {
			w.initErr = boom
		}
	})

	err := p.AwaitReady(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("AwaitReady() error = %v, want init failure", err)
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err() = %v, want init failure", p.Err())
	}
}

func TestWorkerPool_InitTwice(t *testing.T) {
	p, workers := newTestPool(t, 2, func(w *fakeWorker) {
		w.noInit = w.id == 1
	})

	workers[0].msgs <- Message{Kind: MessageInit}

	err := p.AwaitReady(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("AwaitReady() error = %v, want ErrProtocol", err)
	}

	_, err = wait(t, p.Submit(testJob(1)))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Submit after failure error = %v, want ErrProtocol", err)
	}
}

func TestWorkerPool_LostBeforeInit(t *testing.T) {
	p, workers := newTestPool(t, 2, func(w *fakeWorker) {
		w.noInit = w.id == 1
	})

	_ = workers[1].Close()

	err := p.AwaitReady(context.Background())
	if !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("AwaitReady() error = %v, want ErrWorkerLost", err)
	}
}

// =============================================================================
// Protocol Violation Tests
// =============================================================================

func TestWorkerPool_CompletionWithoutPending(t *testing.T) {
	p, workers := newTestPool(t, 2, nil)
	awaitReady(t, p)

	workers[0].complete(testJob(7))

	waitFor(t, "pool failure", func() bool { return p.Err() != nil })
	if !errors.Is(p.Err(), ErrProtocol) {
		t.Errorf("Err() = %v, want ErrProtocol", p.Err())
	}
	if _, err := wait(t, p.Submit(testJob(1))); !errors.Is(err, ErrProtocol) {
		t.Errorf("Submit after failure error = %v, want ErrProtocol", err)
	}
}

func TestWorkerPool_CompletionBeforeInit(t *testing.T) {
	p, workers := newTestPool(t, 1, func(w *fakeWorker) { w.noInit = true })

	workers[0].complete(testJob(1))

	if err := p.AwaitReady(context.Background()); !errors.Is(err, ErrProtocol) {
		t.Errorf("AwaitReady() error = %v, want ErrProtocol", err)
	}
}

func TestWorkerPool_FailureRejectsOutstanding(t *testing.T) {
	p, workers := newTestPool(t, 1, nil)
	awaitReady(t, p)

	running := p.Submit(testJob(1))
	workers[0].recv(t)
	queued := p.Submit(testJob(2))
	waitFor(t, "backlog", func() bool { return p.QueuedWork() == 1 })

	// A second init is fatal.
	workers[0].msgs <- Message{Kind: MessageInit}

	for _, f := range []*Future{running, queued} {
		if _, err := wait(t, f); !errors.Is(err, ErrProtocol) {
			t.Errorf("batch %d error = %v, want ErrProtocol", f.Job().BatchID, err)
		}
	}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestWorkerPool_FIFODispatch(t *testing.T) {
	p, workers := newTestPool(t, 2, nil)
	awaitReady(t, p)

	futures := make([]*Future, 4)
	for i := range futures {
		futures[i] = p.Submit(testJob(uint64(i + 1)))
	}

	// w1 and w2 dispatch immediately, one per worker.
	var a, b *fakeWorker
	first := map[uint64]*fakeWorker{}
	for _, w := range workers {
		first[w.recv(t).BatchID] = w
	}
	a, b = first[1], first[2]
	if a == nil || b == nil {
		t.Fatalf("w1 and w2 not dispatched to distinct workers: %v", first)
	}
	waitFor(t, "w3 and w4 queued", func() bool { return p.QueuedWork() == 2 })

	// A finishes w1 and receives w3.
	a.complete(testJob(1))
	if got := a.recv(t).BatchID; got != 3 {
		t.Errorf("worker A received w%d after w1, want w3", got)
	}

	// B finishes w2 and receives w4.
	b.complete(testJob(2))
	if got := b.recv(t).BatchID; got != 4 {
		t.Errorf("worker B received w%d after w2, want w4", got)
	}

	a.complete(testJob(3))
	b.complete(testJob(4))

	for i, f := range futures {
		r, err := wait(t, f)
		if err != nil {
			t.Fatalf("w%d error = %v", i+1, err)
		}
		if r.BatchID != uint64(i+1) {
			t.Errorf("w%d resolved with batch %d", i+1, r.BatchID)
		}
	}
	waitFor(t, "workers idle", func() bool { return p.IdleWorkers() == 2 && p.QueuedWork() == 0 })
}

func TestWorkerPool_NoIdleTransitionWithBacklog(t *testing.T) {
	p, workers := newTestPool(t, 1, nil)
	awaitReady(t, p)

	p.Submit(testJob(1))
	workers[0].recv(t)
	p.Submit(testJob(2))
	waitFor(t, "backlog", func() bool { return p.QueuedWork() == 1 })

	workers[0].complete(testJob(1))
	if got := workers[0].recv(t).BatchID; got != 2 {
		t.Fatalf("next job = %d, want 2", got)
	}
	if p.IdleWorkers() != 0 {
		t.Errorf("IdleWorkers() = %d, want 0 while the backlog job runs", p.IdleWorkers())
	}
}

func TestWorkerPool_ErrorIsolation(t *testing.T) {
	p, workers := newTestPool(t, 2, nil)
	awaitReady(t, p)

	f1 := p.Submit(testJob(1))
	f2 := p.Submit(testJob(2))

	jobs := map[uint64]*fakeWorker{}
	for _, w := range workers {
		jobs[w.recv(t).BatchID] = w
	}

	boom := errors.New("tile exploded")
	jobs[1].fail(testJob(1), boom)
	jobs[2].complete(testJob(2))

	if _, err := wait(t, f1); !errors.Is(err, boom) {
		t.Errorf("failed job error = %v, want boom", err)
	}
	if _, err := wait(t, f2); err != nil {
		t.Errorf("sibling job error = %v, want nil", err)
	}

	// The failed worker is immediately reusable.
	waitFor(t, "both idle", func() bool { return p.IdleWorkers() == 2 })
	f3 := p.Submit(testJob(3))
	f4 := p.Submit(testJob(4))
	for _, w := range workers {
		j := w.recv(t)
		w.complete(j)
	}
	for _, f := range []*Future{f3, f4} {
		if _, err := wait(t, f); err != nil {
			t.Errorf("batch %d error = %v", f.Job().BatchID, err)
		}
	}

	if p.Workers() != 2 || p.LiveWorkers() != 2 {
		t.Errorf("Workers() = %d, LiveWorkers() = %d, want 2, 2", p.Workers(), p.LiveWorkers())
	}
	if p.Err() != nil {
		t.Errorf("Err() = %v, want nil", p.Err())
	}
}

func TestWorkerPool_MismatchedResult(t *testing.T) {
	p, workers := newTestPool(t, 1, nil)
	awaitReady(t, p)

	f := p.Submit(testJob(1))
	workers[0].recv(t)
	workers[0].complete(testJob(9))

	if _, err := wait(t, f); !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

// =============================================================================
// Lost Worker Tests
// =============================================================================

func TestWorkerPool_WorkerLost(t *testing.T) {
	p, workers := newTestPool(t, 2, nil)
	awaitReady(t, p)

	f1 := p.Submit(testJob(1))
	f2 := p.Submit(testJob(2))
	got := map[uint64]*fakeWorker{}
	for _, w := range workers {
		got[w.recv(t).BatchID] = w
	}
	lost, alive := got[1], got[2]

	_ = lost.Close()
	if _, err := wait(t, f1); !errors.Is(err, ErrWorkerLost) {
		t.Errorf("lost worker's job error = %v, want ErrWorkerLost", err)
	}
	waitFor(t, "eviction", func() bool { return p.LiveWorkers() == 1 })

	// Remaining work flows to the surviving worker.
	f3 := p.Submit(testJob(3))
	alive.complete(testJob(2))
	if got := alive.recv(t).BatchID; got != 3 {
		t.Errorf("surviving worker received %d, want 3", got)
	}
	alive.complete(testJob(3))
	for _, f := range []*Future{f2, f3} {
		if _, err := wait(t, f); err != nil {
			t.Errorf("batch %d error = %v", f.Job().BatchID, err)
		}
	}
}

func TestWorkerPool_AllWorkersLost(t *testing.T) {
	p, workers := newTestPool(t, 1, nil)
	awaitReady(t, p)

	running := p.Submit(testJob(1))
	workers[0].recv(t)
	queued := p.Submit(testJob(2))
	waitFor(t, "backlog", func() bool { return p.QueuedWork() == 1 })

	_ = workers[0].Close()

	if _, err := wait(t, running); !errors.Is(err, ErrWorkerLost) {
		t.Errorf("running job error = %v, want ErrWorkerLost", err)
	}
	if _, err := wait(t, queued); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("queued job error = %v, want ErrNoWorkers", err)
	}
	if _, err := wait(t, p.Submit(testJob(3))); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("later job error = %v, want ErrNoWorkers", err)
	}
}

func TestWorkerPool_PostFailure(t *testing.T) {
	p, _ := newTestPool(t, 1, func(w *fakeWorker) {
		w.postErr = errors.New("pipe closed")
	})
	awaitReady(t, p)

	if _, err := wait(t, p.Submit(testJob(1))); !errors.Is(err, ErrWorkerLost) {
		t.Errorf("error = %v, want ErrWorkerLost", err)
	}
	waitFor(t, "eviction", func() bool { return p.LiveWorkers() == 0 })
}

// =============================================================================
// Close Tests
// =============================================================================

func TestWorkerPool_Close(t *testing.T) {
	p, workers := newTestPool(t, 1, nil)
	awaitReady(t, p)

	running := p.Submit(testJob(1))
	workers[0].recv(t)
	queued := p.Submit(testJob(2))
	waitFor(t, "backlog", func() bool { return p.QueuedWork() == 1 })

	p.Close()

	if p.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
	for _, f := range []*Future{running, queued} {
		if _, err := wait(t, f); !errors.Is(err, ErrPoolClosed) {
			t.Errorf("batch %d error = %v, want ErrPoolClosed", f.Job().BatchID, err)
		}
	}
	if _, err := wait(t, p.Submit(testJob(3))); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 2, nil)

	p.Close()
	p.Close()
	p.Close()
}

func TestWorkerPool_CloseBeforeReady(t *testing.T) {
	p, _ := newTestPool(t, 1, func(w *fakeWorker) { w.noInit = true })

	p.Close()
	if err := p.AwaitReady(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("AwaitReady() error = %v, want ErrPoolClosed", err)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestWorkerPool_Concurrent(t *testing.T) {
	const n = 4
	var active, peak atomic.Int32

	p, _ := newTestPool(t, n, func(w *fakeWorker) {
		w.echo = func(job Job) Message {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(50 * time.Microsecond)
			active.Add(-1)
			return echoResult(job)
		}
	})
	awaitReady(t, p)

	const submitters, perSubmitter = 8, 100
	var wg sync.WaitGroup
	var failures atomic.Int32
	for s := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSubmitter {
				f := p.Submit(testJob(uint64(s*perSubmitter + i)))
				if _, err := f.Wait(context.Background()); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d jobs failed", failures.Load())
	}
	if peak.Load() > n {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), n)
	}
}

// =============================================================================
// JoinAll Tests
// =============================================================================

func TestJoinAll(t *testing.T) {
	p, _ := newTestPool(t, 2, func(w *fakeWorker) { w.echo = echoResult })
	awaitReady(t, p)

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = testJob(uint64(i))
	}

	results, err := JoinAll(context.Background(), p.SubmitAll(jobs))
	if err != nil {
		t.Fatalf("JoinAll() error = %v", err)
	}
	for i, r := range results {
		if r.BatchID != uint64(i) {
			t.Errorf("results[%d].BatchID = %d, want %d", i, r.BatchID, i)
		}
	}
}

func TestJoinAll_PartialFailure(t *testing.T) {
	boom := errors.New("boom")
	p, _ := newTestPool(t, 2, func(w *fakeWorker) {
		w.echo = func(job Job) Message {
			if job.BatchID == 3 {
				return Message{Kind: MessageError, Err: boom}
			}
			return echoResult(job)
		}
	})
	awaitReady(t, p)

	jobs := []Job{testJob(1), testJob(2), testJob(3), testJob(4)}
	results, err := JoinAll(context.Background(), p.SubmitAll(jobs))
	if !errors.Is(err, boom) {
		t.Fatalf("JoinAll() error = %v, want boom", err)
	}
	if results[2].Pixels != nil {
		t.Error("failed slot holds pixels")
	}
	if results[3].BatchID != 4 {
		t.Errorf("results[3].BatchID = %d, want 4", results[3].BatchID)
	}
}

func TestJoinAll_Context(t *testing.T) {
	f := newFuture(testJob(1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := JoinAll(ctx, []*Future{f}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("JoinAll() error = %v, want DeadlineExceeded", err)
	}
}

func TestFuture_SettlesOnce(t *testing.T) {
	f := newFuture(testJob(1))
	f.resolve(Result{BatchID: 1})
	f.reject(errors.New("late"))
	f.resolve(Result{BatchID: 2})

	r, err := f.Result()
	if err != nil || r.BatchID != 1 {
		t.Errorf("Result() = (%d, %v), want (1, nil)", r.BatchID, err)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done() not closed")
	}
}
