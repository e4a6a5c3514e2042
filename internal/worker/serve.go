package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/fractile/internal/kernel"
	"github.com/gogpu/fractile/internal/wire"
)

// Serve runs the child side of a subprocess worker.
//
// It initializes the kernel and reports the outcome with one init frame,
// then answers every job frame read from r with a render or error frame on
// w. Serve returns nil when r reaches EOF, which is how the parent asks the
// child to exit, and an error wrapping kernel.ErrKernelLost when the kernel
// can no longer compute.
func Serve(ctx context.Context, r io.Reader, w io.Writer, init InitFunc) error {
	out := bufio.NewWriter(w)
	send := func(m *wire.Message) error {
		if err := wire.WriteMessage(out, m); err != nil {
			return err
		}
		return out.Flush()
	}

	k, err := initialize(ctx, init)
	hello := &wire.Message{Type: wire.TypeInit}
	if err != nil {
		hello.Error = err.Error()
	}
	if serr := send(hello); serr != nil {
		return serr
	}
	if err != nil {
		return fmt.Errorf("worker: init: %w", err)
	}
	defer closeKernel(k)

	in := bufio.NewReader(r)
	for {
		m, err := wire.ReadMessage(in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Type != wire.TypeJob {
			return fmt.Errorf("%w: %q sent to worker", wire.ErrUnknownMessage, m.Type)
		}

		reply, lost := answer(ctx, k, m)
		if lost != nil {
			// Exiting closes stdout; the parent evicts this worker.
			return fmt.Errorf("worker: %w", lost)
		}
		err = send(reply)
		kernel.PutBuffer(reply.Pixels)
		if err != nil {
			return err
		}
	}
}

// answer computes one job frame. It returns a non-nil error only when the
// kernel is lost and no further jobs can be answered.
func answer(ctx context.Context, k kernel.Kernel, job *wire.Message) (*wire.Message, error) {
	p := *job.Params
	reply := &wire.Message{
		BatchID:    job.BatchID,
		ResetEpoch: job.ResetEpoch,
		TileLeft:   p.TileLeft,
		TileTop:    p.TileTop,
		Width:      p.TileWidth,
		Height:     p.TileHeight,
	}

	pixels, err := compute(ctx, k, p)
	if errors.Is(err, kernel.ErrKernelLost) {
		return nil, err
	}
	if err != nil {
		reply.Type = wire.TypeError
		reply.Error = err.Error()
		return reply, nil
	}
	reply.Type = wire.TypeRender
	reply.Pixels = pixels
	return reply, nil
}
