package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/fractile/internal/parallel"
	"github.com/gogpu/fractile/internal/wire"
)

// Process defaults.
const (
	// DefaultWriteTimeout bounds a single job write to the child's stdin.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultStopTimeout is how long Close waits for a graceful exit
	// before killing the child.
	DefaultStopTimeout = 2 * time.Second
)

// ProcessConfig describes the subprocess to spawn.
type ProcessConfig struct {
	// Path is the worker executable.
	Path string

	// Args are passed to the executable.
	Args []string

	// Env is appended to the current environment.
	Env []string

	// WriteTimeout bounds each job write. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// StopTimeout bounds a graceful shutdown. Zero means DefaultStopTimeout.
	StopTimeout time.Duration
}

// Process is a worker running in a child process.
//
// Jobs are written to the child's stdin and answers read from its stdout,
// both as wire frames. Lines the child writes to stderr are logged. If the
// child exits or its stdout breaks, the message stream closes and the pool
// evicts the worker.
type Process struct {
	id  string
	cfg ProcessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	jobs chan parallel.Job
	msgs chan parallel.Message

	// quit is closed by Close; results read afterwards are discarded.
	quit chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// readers tracks the stdout and stderr readers; Wait may only run
	// after both are done.
	readers sync.WaitGroup
	wg      sync.WaitGroup
	exited  chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewProcess creates a subprocess worker. The process is spawned by Start.
func NewProcess(id int, cfg ProcessConfig) *Process {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Process{
		id:     fmt.Sprintf("process-%d", id),
		cfg:    cfg,
		jobs:   make(chan parallel.Job, 1),
		msgs:   make(chan parallel.Message, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// ID implements parallel.Worker.
func (w *Process) ID() string { return w.id }

// Messages implements parallel.Worker.
func (w *Process) Messages() <-chan parallel.Message { return w.msgs }

// Start spawns the child process. Its init frame arrives as a message.
func (w *Process) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return ErrStarted
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	if err := w.spawn(); err != nil {
		w.cancel()
		return fmt.Errorf("worker: spawn %s: %w", w.cfg.Path, err)
	}
	w.started = true

	w.readers.Add(2)
	w.wg.Add(2)
	go w.readResults()
	go w.logStderr()
	go w.writeJobs()
	go w.waitProcess()

	slogger().Info("worker: process started", "worker", w.id, "pid", w.cmd.Process.Pid)
	return nil
}

func (w *Process) spawn() error {
	w.cmd = exec.CommandContext(w.ctx, w.cfg.Path, w.cfg.Args...) //nolint:gosec // path comes from configuration
	if len(w.cfg.Env) > 0 {
		w.cmd.Env = append(os.Environ(), w.cfg.Env...)
	}

	var err error
	if w.stdin, err = w.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if w.stdout, err = w.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if w.stderr, err = w.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	return w.cmd.Start()
}

// readResults turns stdout frames into messages until the stream ends.
func (w *Process) readResults() {
	defer w.readers.Done()
	defer close(w.msgs)

	r := bufio.NewReader(w.stdout)
	discard := false
	for {
		m, err := wire.ReadMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && w.ctx.Err() == nil {
				slogger().Warn("worker: read result", "worker", w.id, "err", err)
			}
			return
		}

		msg, err := toMessage(m)
		if err != nil {
			slogger().Error("worker: bad frame", "worker", w.id, "err", err)
			return
		}

		// Keep draining after Close so the child never blocks on stdout.
		if discard {
			continue
		}
		select {
		case w.msgs <- msg:
		case <-w.quit:
			discard = true
		case <-w.ctx.Done():
			return
		}
	}
}

// toMessage converts a frame from the child into a pool message.
func toMessage(m *wire.Message) (parallel.Message, error) {
	var err error
	if m.Error != "" {
		err = errors.New(m.Error)
	}

	res := parallel.Result{
		BatchID:    m.BatchID,
		ResetEpoch: m.ResetEpoch,
		TileLeft:   m.TileLeft,
		TileTop:    m.TileTop,
		Width:      m.Width,
		Height:     m.Height,
		Pixels:     m.Pixels,
	}

	switch m.Type {
	case wire.TypeInit:
		return parallel.Message{Kind: parallel.MessageInit, Err: err}, nil
	case wire.TypeRender:
		return parallel.Message{Kind: parallel.MessageRender, Result: res}, nil
	case wire.TypeError:
		if err == nil {
			err = errors.New("worker reported failure")
		}
		return parallel.Message{Kind: parallel.MessageError, Result: res, Err: err}, nil
	default:
		return parallel.Message{}, fmt.Errorf("%w: %q from worker", wire.ErrUnknownMessage, m.Type)
	}
}

// writeJobs writes posted jobs to the child's stdin.
func (w *Process) writeJobs() {
	defer w.wg.Done()

	for {
		select {
		case job := <-w.jobs:
			if err := w.writeJob(job); err != nil {
				// A worker that cannot take jobs is useless; killing it
				// closes stdout, and the pool evicts it.
				slogger().Error("worker: write job", "worker", w.id, "batch", job.BatchID, "err", err)
				w.kill()
				return
			}
		case <-w.quit:
			return
		case <-w.ctx.Done():
			return
		}
	}
}

// writeJob writes one job frame, bounded by WriteTimeout.
func (w *Process) writeJob(job parallel.Job) error {
	params := job.Params
	m := &wire.Message{
		Type:       wire.TypeJob,
		BatchID:    job.BatchID,
		ResetEpoch: job.ResetEpoch,
		Params:     &params,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- wire.WriteMessage(w.stdin, m)
	}()

	select {
	case err := <-errc:
		return err
	case <-time.After(w.cfg.WriteTimeout):
		return fmt.Errorf("stdin write timeout after %s", w.cfg.WriteTimeout)
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// logStderr logs each line the child writes to stderr.
func (w *Process) logStderr() {
	defer w.readers.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "level=ERROR"):
			slogger().Error("worker: child", "worker", w.id, "log", line)
		case strings.Contains(line, "level=WARN"):
			slogger().Warn("worker: child", "worker", w.id, "log", line)
		default:
			slogger().Debug("worker: child", "worker", w.id, "log", line)
		}
	}
}

// waitProcess reaps the child once its output has been drained.
func (w *Process) waitProcess() {
	defer w.wg.Done()
	defer close(w.exited)

	w.readers.Wait()
	err := w.cmd.Wait()

	switch {
	case w.ctx.Err() != nil:
		slogger().Debug("worker: process exited (shutdown)", "worker", w.id)
	case err != nil:
		slogger().Error("worker: process exited unexpectedly", "worker", w.id, "err", err)
	default:
		slogger().Info("worker: process exited", "worker", w.id)
	}
}

func (w *Process) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slogger().Error("worker: kill", "worker", w.id, "err", err)
		}
	}
}

// Post implements parallel.Worker.
func (w *Process) Post(job parallel.Job) error {
	w.mu.Lock()
	running := w.started && !w.closed
	w.mu.Unlock()
	if !running {
		return ErrClosed
	}

	select {
	case <-w.exited:
		return ErrClosed
	default:
	}
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Close closes the child's stdin and waits for it to exit, killing it
// after StopTimeout.
func (w *Process) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	close(w.quit)
	w.mu.Unlock()

	if !started {
		close(w.msgs)
		return nil
	}

	// EOF on stdin is the child's signal to exit.
	_ = w.stdin.Close()

	done := make(chan struct{})
	go func() {
		<-w.exited
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		slogger().Warn("worker: stop timeout, killing process", "worker", w.id)
		w.kill()
		<-done
	}

	w.cancel()
	w.wg.Wait()
	return nil
}
