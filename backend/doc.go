// Package backend is the registry of GPU backends the scheduler can drive.
//
// Backends register a factory under a name from an init function, so
// importing a backend package for side effects makes it available:
//
//	import (
//		_ "github.com/gogpu/gpuframe/backend/software"
//		_ "github.com/gogpu/gpuframe/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use Default to get the best available backend, or Get to request a
// specific backend by name:
//
//	b, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	dev, err := gpuframe.NewDevice(b)
//
// # Available Backends
//
//   - "wgpu": gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, noop)
//   - "software": in-memory simulated GPU (always available)
package backend
