// Package gpuframe schedules GPU command recording, submission and resource
// lifetime across a ring of frames in flight.
//
// # Overview
//
// The CPU records frame N+1 while the GPU still executes frame N. A Device
// keeps a ring of frame slots, each with its own fence, command pools and
// list of objects waiting for destruction. Starting a frame reuses the
// oldest slot: the device waits on that slot's fence, destroys what was
// scheduled during its previous frame and resets its pools.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpuframe"
//	    "github.com/gogpu/gpuframe/backend"
//	    _ "github.com/gogpu/gpuframe/backend/software"
//	)
//
//	b, _ := backend.Default()
//	dev, err := gpuframe.NewDevice(b)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	w := dev.FrameWorker()
//	for range frames {
//	    rec, _ := w.DrawBuffer()
//	    // record into rec
//	    if err := dev.EndFrame(); err != nil {
//	        return err
//	    }
//	}
//
// # Recording
//
// Every goroutine that records uses its own Worker. A Worker leases a
// resource recorder and a draw recorder per frame from the goroutine's own
// command pool, so recording needs no locks. At EndFrame resource recorders
// are submitted first and the draw batch waits on a semaphore they signal.
//
// Parallel render passes are split across goroutines with
// Worker.BeginParallelPass: each goroutine records into its own secondary
// recorder, and ParallelPass.End executes them in thread order.
//
// # Destruction
//
// Worker.ScheduleDestruction defers destroying an object until every frame
// that may still reference it has retired. Render passes evicted from the
// pass cache and objects evicted from a PipelineCache take the same path.
//
// # Frame Lifecycle
//
// NewDevice begins frame 1. EndFrame submits the current frame and begins
// the next, so the device is always recording. BeginFrame is idempotent and
// only needed to resume after an error.
//
// # Threads
//
// The number of goroutines recording at once is read from the thread count
// oracle (WithThreadCount) at the start of every frame. A Dispatcher runs
// recording tasks on a fixed set of goroutines with one Worker each.
package gpuframe
