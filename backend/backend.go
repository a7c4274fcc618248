package backend

import (
	"errors"

	"github.com/gogpu/gpuframe/gpucore"
)

// Backend names.
const (
	NameWGPU     = "wgpu"
	NameSoftware = "software"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or every registered factory failed.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory creates a ready-to-use backend.
type Factory func() (gpucore.Backend, error)
