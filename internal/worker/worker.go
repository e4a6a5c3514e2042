// Package worker provides the parallel.Worker implementations used by
// fractile: an in-process goroutine worker and a subprocess worker that
// speaks the wire protocol over stdin/stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/gogpu/fractile/internal/kernel"
)

var (
	// ErrBusy is returned by Post when the worker already holds a job.
	ErrBusy = errors.New("worker: busy")

	// ErrClosed is returned by Post on a worker that is not running.
	ErrClosed = errors.New("worker: closed")

	// ErrStarted is returned by Start on a worker that was already started.
	ErrStarted = errors.New("worker: already started")
)

// InitFunc performs a worker's one-time initialization and returns the
// kernel it will compute with. If the kernel implements io.Closer it is
// closed when the worker stops.
type InitFunc func(ctx context.Context) (kernel.Kernel, error)

// Native initializes a worker with the native Mandelbrot kernel.
func Native(context.Context) (kernel.Kernel, error) {
	return kernel.NewMandelbrot(), nil
}

// compute runs k on p, turning a panic into an error.
func compute(ctx context.Context, k kernel.Kernel, p kernel.Params) (pixels []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			slogger().Error("worker: kernel panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return k.Compute(ctx, p)
}

// initialize runs init, turning a panic into an error.
func initialize(ctx context.Context, init InitFunc) (k kernel.Kernel, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panic: %v", r)
		}
	}()
	k, err = init(ctx)
	if err == nil && k == nil {
		err = errors.New("init returned no kernel")
	}
	return k, err
}

// closeKernel releases k if it holds resources.
func closeKernel(k kernel.Kernel) {
	if c, ok := k.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slogger().Warn("worker: close kernel", "err", err)
		}
	}
}
