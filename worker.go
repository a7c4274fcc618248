package gpuframe

import (
	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/threadslot"
	"github.com/gogpu/gpuframe/passcache"
)

// Worker is the recording state of one goroutine. It caches the goroutine's
// thread slot in the command pools, the destruction lists and the pass cache
// of the current frame.
//
// A Worker must only be used by one goroutine at a time, and each goroutine
// recording concurrently needs its own. The number of Workers in use at once
// must not exceed the device's thread count; excess goroutines share slot 0
// and an error is logged.
type Worker struct {
	dev     *Device
	lease   threadslot.Local
	garbage threadslot.Local
	passes  threadslot.Local
	queries []openQuery
}

// NewWorker returns a Worker for the calling goroutine.
func (d *Device) NewWorker() *Worker {
	return &Worker{dev: d}
}

// Device returns the device the worker records for.
func (w *Worker) Device() *Device {
	return w.dev
}

// ResourceBuffer returns the goroutine's recorder for uploads, copies and
// other resource mutations of the current frame. It is begun on first use
// and submitted before every draw recorder of the frame.
func (w *Worker) ResourceBuffer() (gpucore.CommandRecorder, error) {
	if w.dev.closed.Load() {
		return nil, ErrClosed
	}
	return w.dev.currentSlot().pool.Resource(&w.lease)
}

// DrawBuffer returns the goroutine's recorder for rendering work of the
// current frame.
func (w *Worker) DrawBuffer() (gpucore.CommandRecorder, error) {
	if w.dev.closed.Load() {
		return nil, ErrClosed
	}
	return w.dev.currentSlot().pool.Draw(&w.lease)
}

// SecondaryBuffer returns the goroutine's secondary recorder of a parallel
// block reserved with Device.ReserveParallelBlock.
func (w *Worker) SecondaryBuffer(block int) (gpucore.CommandRecorder, error) {
	if w.dev.closed.Load() {
		return nil, ErrClosed
	}
	return w.dev.currentSlot().pool.Secondary(&w.lease, block)
}

// ScheduleDestruction hands obj to the device, which destroys it once every
// frame that may reference it has retired. The caller must not use obj
// afterwards. After Close the GPU is idle and obj is destroyed at once.
func (w *Worker) ScheduleDestruction(obj gpucore.DeferredObject) {
	if w.dev.closed.Load() {
		Logger().Debug("gpuframe: destroying object scheduled after close", "kind", obj.Kind)
		obj.Destroy()
		return
	}
	w.dev.currentSlot().garbage.ScheduleDestruction(&w.garbage, obj)
}

// AcquireRenderPass returns a cached render pass compatible with desc,
// building one on a miss. Release it with ReleaseRenderPass once recording
// into the pass has ended.
func (w *Worker) AcquireRenderPass(desc *gpucore.RenderPassDescriptor) (*passcache.Entry, error) {
	if w.dev.closed.Load() {
		return nil, ErrClosed
	}
	return w.dev.cache.Acquire(&w.passes, desc)
}

// ReleaseRenderPass makes e available to other goroutines again.
func (w *Worker) ReleaseRenderPass(e *passcache.Entry) {
	w.dev.cache.Release(e)
}
