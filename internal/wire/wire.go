// Package wire encodes the messages exchanged between the pool and a
// subprocess worker.
//
// Each frame is a 4-byte big-endian length followed by a msgpack-encoded
// Message. The pool writes "job" frames to the worker's stdin; the worker
// answers on stdout with one "init" frame, then one "render" or "error"
// frame per job.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/gogpu/fractile/internal/kernel"
)

// MaxFrameSize bounds a single frame. A 4K canvas split into one tile is
// ~33 MiB of RGBA, so anything larger is a corrupt stream.
const MaxFrameSize = 256 << 20

// Message types.
const (
	TypeInit   = "init"
	TypeJob    = "job"
	TypeRender = "render"
	TypeError  = "error"
)

var (
	// ErrFrameTooLarge is returned for a frame above MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrUnknownMessage is returned for a frame with an unknown type.
	ErrUnknownMessage = errors.New("wire: unknown message type")
)

// Message is one protocol frame.
type Message struct {
	Type string `msgpack:"type"`

	BatchID    uint64 `msgpack:"batch_id,omitempty"`
	ResetEpoch uint64 `msgpack:"reset_epoch,omitempty"`

	// Params is set on job frames.
	Params *kernel.Params `msgpack:"params,omitempty"`

	// Tile offset and size, echoed on render frames.
	TileLeft int `msgpack:"tile_left,omitempty"`
	TileTop  int `msgpack:"tile_top,omitempty"`
	Width    int `msgpack:"width,omitempty"`
	Height   int `msgpack:"height,omitempty"`

	// Pixels is the RGBA tile on render frames.
	Pixels []byte `msgpack:"pixels,omitempty"`

	// Error describes a failed init or job.
	Error string `msgpack:"error,omitempty"`
}

// Validate checks the message type.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeInit, TypeRender, TypeError:
		return nil
	case TypeJob:
		if m.Params == nil {
			return fmt.Errorf("%w: job without params", ErrUnknownMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// WriteMessage encodes m as one length-prefixed frame.
func WriteMessage(w io.Writer, m *Message) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("wire: marshal %s: %w", m.Type, err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	// Length prefix and payload go out in one write so that concurrent
	// readers never see a torn header.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) //nolint:gosec // bounded by MaxFrameSize
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write %s: %w", m.Type, err)
	}
	return nil
}

// ReadMessage decodes the next frame from r.
// It returns io.EOF only when r ends cleanly between frames.
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read length: %w", err)
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
