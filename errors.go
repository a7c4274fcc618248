package gpuframe

import (
	"errors"
	"fmt"
)

var (
	// ErrNilBackend is returned by NewDevice for a nil backend.
	ErrNilBackend = errors.New("gpuframe: nil backend")

	// ErrInvalidRingSize is returned by NewDevice when fewer than two frames
	// could be in flight.
	ErrInvalidRingSize = errors.New("gpuframe: ring size must be at least 2")

	// ErrDeviceLost is returned once the GPU stopped making progress or
	// rejected a submission. The device cannot recover; close it.
	ErrDeviceLost = errors.New("gpuframe: device lost")

	// ErrFenceTimeout is returned when a ring slot did not retire within the
	// fence timeout. It wraps ErrDeviceLost.
	ErrFenceTimeout = fmt.Errorf("%w: fence wait timed out", ErrDeviceLost)

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("gpuframe: device closed")
)
