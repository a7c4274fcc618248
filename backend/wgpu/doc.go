// Package wgpu adapts a gogpu/wgpu HAL device to the gpucore contracts.
//
// # Mapping
//
// HAL has no command pools or secondary command buffers, so both are
// emulated on top of command encoders:
//
//   - A CommandPool owns one hal.CommandEncoder per recorder and frees every
//     command buffer they produced when it is reset.
//   - Executing secondary recorders into a primary ends the primary's current
//     encoding, splices the secondaries' command buffers in after it and
//     starts a new encoding. A render pass open on the primary is ended
//     before the split and resumed with load operations afterwards.
//   - Fences track the HAL submission index and are signaled once the queue
//     reports that index completed.
//   - Semaphores carry no state. The HAL queue executes submissions in
//     order, which already orders resource work before draws.
//
// # Usage
//
//	import (
//	    "github.com/gogpu/gpuframe"
//	    gpuwgpu "github.com/gogpu/gpuframe/backend/wgpu"
//	    _ "github.com/gogpu/wgpu/hal/allbackends"
//	)
//
//	b, err := gpuwgpu.Open(gputypes.BackendVulkan)
//	if err != nil {
//	    return err
//	}
//	dev, err := gpuframe.NewDevice(b)
//
// A device shared with a windowing library is adopted with NewFromProvider.
package wgpu
