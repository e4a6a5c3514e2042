package parallel

import (
	"context"
	"fmt"

	"github.com/gogpu/fractile/internal/kernel"
)

// Job is one tile's compute request, stamped with its correlation ids.
type Job struct {
	// BatchID identifies the render cycle that produced the job.
	BatchID uint64

	// ResetEpoch is the layout epoch current when the batch was built.
	ResetEpoch uint64

	// Params is the tile geometry and view parameters.
	Params kernel.Params
}

// NewJob builds the job for tile t.
// view supplies every field except the tile geometry.
func NewJob(batchID, epoch uint64, t Tile, view kernel.Params) Job {
	p := view
	p.TileLeft = t.X
	p.TileTop = t.Y
	p.TileWidth = t.Width
	p.TileHeight = t.Height
	return Job{BatchID: batchID, ResetEpoch: epoch, Params: p}
}

// Result is a worker's answer to a Job.
type Result struct {
	BatchID    uint64
	ResetEpoch uint64

	// TileLeft and TileTop are the canvas offset of the tile.
	TileLeft int
	TileTop  int

	// Width and Height are the tile size the pixels were computed for.
	Width  int
	Height int

	// Pixels is the RGBA output, expected to be Width*Height*4 bytes.
	Pixels []byte
}

// ResultFor returns a Result for job carrying pixels.
func ResultFor(job Job, pixels []byte) Result {
	return Result{
		BatchID:    job.BatchID,
		ResetEpoch: job.ResetEpoch,
		TileLeft:   job.Params.TileLeft,
		TileTop:    job.Params.TileTop,
		Width:      job.Params.TileWidth,
		Height:     job.Params.TileHeight,
		Pixels:     pixels,
	}
}

// MessageKind is the type of a worker-to-pool message.
type MessageKind uint8

const (
	// MessageInit acknowledges one-time initialization. Sent exactly once.
	MessageInit MessageKind = iota + 1

	// MessageRender carries a computed tile.
	MessageRender

	// MessageError reports that the current job failed.
	MessageError
)

// String returns the wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case MessageInit:
		return "init"
	case MessageRender:
		return "render"
	case MessageError:
		return "error"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// Message is sent from a worker to the pool.
type Message struct {
	Kind MessageKind

	// Result is set for MessageRender. For MessageError only the
	// correlation ids are meaningful.
	Result Result

	// Err is the failure for MessageError, or a failed init for MessageInit.
	Err error
}

// Worker is one long-lived compute context.
//
// The pool calls Start once, waits for a MessageInit, then hands the worker
// at most one job at a time with Post. Every Post is answered by exactly one
// MessageRender or MessageError. Post must not block; a worker that cannot
// accept a job returns an error and is evicted.
//
// Messages must be closed when the worker can no longer deliver results.
// The pool treats a closed stream as a lost worker.
type Worker interface {
	ID() string
	Start(ctx context.Context) error
	Post(job Job) error
	Messages() <-chan Message
	Close() error
}

// WorkerFactory creates the worker with the given index.
type WorkerFactory func(id int) (Worker, error)
