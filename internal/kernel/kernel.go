// Package kernel defines the compute boundary used by fractile workers.
//
// A Kernel turns one tile's geometry and view parameters into an RGBA pixel
// buffer of exactly TileWidth*TileHeight*4 bytes. Kernels are opaque to the
// scheduler: the worker pool only moves Params in and pixel buffers out.
//
// The package ships a native escape-time kernel (Mandelbrot) and a size-keyed
// buffer pool shared by every kernel implementation.
package kernel

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidParams is returned when Params describe an empty or negative
// tile, canvas or iteration budget.
var ErrInvalidParams = errors.New("kernel: invalid params")

// ErrKernelLost is returned by a kernel that can no longer compute any job.
// A worker receiving it stops, and the pool evicts the worker.
var ErrKernelLost = errors.New("kernel: lost")

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// Params carries tile geometry plus the full view parameters for one job.
//
// Field tags define the wire representation used by subprocess workers.
type Params struct {
	TileWidth     int `msgpack:"tile_width"`
	TileHeight    int `msgpack:"tile_height"`
	CanvasWidth   int `msgpack:"canvas_width"`
	CanvasHeight  int `msgpack:"canvas_height"`
	MaxIterations int `msgpack:"max_iterations"`
	TileLeft      int `msgpack:"tile_left"`
	TileTop       int `msgpack:"tile_top"`

	CenterX float64 `msgpack:"center_x"`
	CenterY float64 `msgpack:"center_y"`
	Scale   float64 `msgpack:"scale"`
	Ratio   float64 `msgpack:"ratio"`

	Power     int  `msgpack:"power"`
	Grayscale bool `msgpack:"grayscale"`
}

// Validate reports whether p can be computed.
func (p Params) Validate() error {
	switch {
	case p.TileWidth <= 0 || p.TileHeight <= 0:
		return fmt.Errorf("%w: tile %dx%d", ErrInvalidParams, p.TileWidth, p.TileHeight)
	case p.CanvasWidth <= 0 || p.CanvasHeight <= 0:
		return fmt.Errorf("%w: canvas %dx%d", ErrInvalidParams, p.CanvasWidth, p.CanvasHeight)
	case p.MaxIterations <= 0:
		return fmt.Errorf("%w: max iterations %d", ErrInvalidParams, p.MaxIterations)
	}
	return nil
}

// ByteSize returns the expected length of the pixel buffer for p.
func (p Params) ByteSize() int {
	return p.TileWidth * p.TileHeight * BytesPerPixel
}

// Kernel computes the pixels of one tile.
//
// Implementations must be safe to call from one goroutine at a time; the
// worker pool never calls a single Kernel concurrently.
type Kernel interface {
	Compute(ctx context.Context, p Params) ([]byte, error)
}

// Func adapts an ordinary function to the Kernel interface.
type Func func(ctx context.Context, p Params) ([]byte, error)

// Compute calls f(ctx, p).
func (f Func) Compute(ctx context.Context, p Params) ([]byte, error) {
	return f(ctx, p)
}
