package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/fractile/internal/kernel"
	"github.com/gogpu/fractile/internal/parallel"
)

// Local is a worker backed by one goroutine in the current process.
//
// Start runs the InitFunc on the worker goroutine and reports the outcome
// as the init message. Jobs are computed one at a time; a kernel error or
// panic fails only that job. A kernel reporting kernel.ErrKernelLost stops
// the worker.
type Local struct {
	id   string
	init InitFunc

	// inbox holds at most the one job the pool may assign.
	inbox chan parallel.Job
	msgs  chan parallel.Message

	quit chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewLocal creates an in-process worker.
func NewLocal(id int, init InitFunc) *Local {
	return &Local{
		id:    fmt.Sprintf("local-%d", id),
		init:  init,
		inbox: make(chan parallel.Job, 1),
		msgs:  make(chan parallel.Message, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// ID implements parallel.Worker.
func (l *Local) ID() string { return l.id }

// Messages implements parallel.Worker.
func (l *Local) Messages() <-chan parallel.Message { return l.msgs }

// Start implements parallel.Worker.
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return ErrStarted
	}
	l.started = true
	go l.run(ctx)
	return nil
}

func (l *Local) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.msgs)

	k, err := initialize(ctx, l.init)
	if !l.send(parallel.Message{Kind: parallel.MessageInit, Err: err}) || err != nil {
		return
	}
	defer closeKernel(k)

	for {
		select {
		case job := <-l.inbox:
			msg := l.compute(ctx, k, job)
			if errors.Is(msg.Err, kernel.ErrKernelLost) {
				// Closing the stream without an answer makes the pool
				// evict this worker and reject the job.
				slogger().Error("worker: kernel lost", "worker", l.id, "batch", job.BatchID, "err", msg.Err)
				return
			}
			if !l.send(msg) {
				return
			}
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Local) compute(ctx context.Context, k kernel.Kernel, job parallel.Job) parallel.Message {
	pixels, err := compute(ctx, k, job.Params)
	if err != nil {
		return parallel.Message{Kind: parallel.MessageError, Result: parallel.ResultFor(job, nil), Err: err}
	}
	return parallel.Message{Kind: parallel.MessageRender, Result: parallel.ResultFor(job, pixels)}
}

func (l *Local) send(m parallel.Message) bool {
	select {
	case l.msgs <- m:
		return true
	case <-l.quit:
		return false
	}
}

// Post implements parallel.Worker.
func (l *Local) Post(job parallel.Job) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Close stops the worker goroutine and waits for it to exit.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	close(l.quit)
	l.mu.Unlock()

	if started {
		<-l.done
	} else {
		close(l.done)
		close(l.msgs)
	}
	return nil
}
