// Package gpucore defines the contracts between the gpuframe scheduler and the
// GPU backends it drives.
//
// The scheduler never talks to a graphics API directly. It consumes a
// [Backend] that hands out command pools, recorders, fences, semaphores and
// render passes, and a [Queue] that accepts ordered submission batches.
// Backends are thin adapters; all frame pacing, leasing and deferred
// destruction logic lives once in the scheduler.
//
//	               +-----------------+
//	               |    gpuframe     |
//	               | (Device, Worker)|
//	               +--------+--------+
//	                        |  gpucore contracts
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  wgpu backend   |          | software backend|
//	|  (hal.Device)   |          |  (in-memory)    |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	|   (Pure Go)     |
//	+-----------------+
//
// # Recording
//
// A [CommandPool] is externally synchronized: exactly one goroutine may
// allocate from it or record into its recorders at a time. Resetting a pool
// implicitly resets every [CommandRecorder] drawn from it.
//
// # Submission
//
// [Queue.Submit] receives batches in execution order. A batch may wait on and
// signal [Semaphore] values; the optional [Fence] signals once every batch of
// the call, and all work submitted before it, has finished on the GPU.
// Submitting zero batches with a fence is valid and signals the fence after
// previously submitted work completes.
//
// # Destruction
//
// Every GPU object owned by a client is [Destroyable]. Objects that may still
// be referenced by in-flight command buffers are wrapped in a
// [DeferredObject] and handed to the scheduler, which calls Destroy exactly
// once after the owning frame has retired on the GPU.
package gpucore
