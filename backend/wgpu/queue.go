package wgpu

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/gpucore"
)

// Queue submits recorder work to the HAL queue.
//
// The HAL queue executes the command buffers of one submission in order and
// tracks completion by submission index, so batches are flattened into one
// ordered submission and fences become index targets.
type Queue struct {
	backend   *Backend
	queue     hal.Queue
	lastIndex atomic.Uint64
}

// Submit implements gpucore.Queue.
func (q *Queue) Submit(batches []gpucore.SubmitBatch, fence gpucore.Fence) error {
	var cbs []hal.CommandBuffer
	for _, batch := range batches {
		for _, rec := range batch.Recorders {
			r, ok := rec.(*Recorder)
			if !ok {
				return gpucore.ErrForeignObject
			}
			if r.level != gpucore.LevelPrimary {
				return gpucore.ErrRecorderLevel
			}
			if r.recording {
				return fmt.Errorf("wgpu: submit: %w", gpucore.ErrAlreadyRecording)
			}
			cbs = append(cbs, r.commandBuffers()...)
		}
	}

	var f *Fence
	if fence != nil {
		var ok bool
		if f, ok = fence.(*Fence); !ok {
			return gpucore.ErrForeignObject
		}
	}

	idx := q.lastIndex.Load()
	if len(cbs) > 0 {
		var err error
		idx, err = q.queue.Submit(cbs)
		if err != nil {
			return fmt.Errorf("wgpu: queue submit: %w", err)
		}
		q.lastIndex.Store(idx)
	}
	if f != nil {
		f.target.Store(idx)
	}
	return nil
}

// Completed returns the highest submission index the GPU finished.
func (q *Queue) Completed() uint64 {
	return q.queue.PollCompleted()
}

// Fence signals once the GPU completes the submission it was attached to.
type Fence struct {
	queue *Queue
	label string

	// target is the submission index the fence waits for. Zero is always
	// complete; unsubmitted is never reached.
	target atomic.Uint64
}

const unsubmitted = math.MaxUint64

// Fence polling bounds.
const (
	minPoll = 20 * time.Microsecond
	maxPoll = 2 * time.Millisecond
)

// Signaled implements gpucore.Fence.
func (f *Fence) Signaled() (bool, error) {
	target := f.target.Load()
	if target == 0 {
		return true, nil
	}
	if target == unsubmitted {
		return false, nil
	}
	return f.queue.Completed() >= target, nil
}

// Wait implements gpucore.Fence.
func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	backoff := minPoll
	for {
		ok, err := f.Signaled()
		if ok || err != nil {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		time.Sleep(min(backoff, remaining))
		backoff = min(backoff*2, maxPoll)
	}
}

// Reset implements gpucore.Fence.
func (f *Fence) Reset() error {
	f.target.Store(unsubmitted)
	return nil
}

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

// Destroy implements gpucore.Destroyable.
func (f *Fence) Destroy() {}

// Semaphore is an ordering token. Submissions on the HAL queue already
// execute in order, so it carries no GPU object.
type Semaphore struct {
	label string
}

// Label returns the debug label.
func (s *Semaphore) Label() string { return s.label }

// Destroy implements gpucore.Destroyable.
func (s *Semaphore) Destroy() {}

// IsDeviceLost reports whether err carries the HAL device-lost error.
func IsDeviceLost(err error) bool {
	return errors.Is(err, hal.ErrDeviceLost)
}

var (
	_ gpucore.Queue     = (*Queue)(nil)
	_ gpucore.Fence     = (*Fence)(nil)
	_ gpucore.Semaphore = (*Semaphore)(nil)
)
