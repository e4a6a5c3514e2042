package fractile

import "errors"

var (
	// ErrClosed is returned by operations on a closed Explorer.
	ErrClosed = errors.New("fractile: explorer closed")

	// ErrInvalidConfig is returned for configuration that cannot be applied.
	ErrInvalidConfig = errors.New("fractile: invalid config")

	// ErrIntegrity marks a tile result whose pixel buffer does not match
	// its geometry. The tile is dropped from compositing.
	ErrIntegrity = errors.New("fractile: tile integrity failure")
)
