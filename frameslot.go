package gpuframe

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/garbage"
	"github.com/gogpu/gpuframe/internal/lease"
)

// SlotState is the lifecycle state of a ring slot.
type SlotState uint8

const (
	// SlotIdle slots have never been used or were retired by Close.
	SlotIdle SlotState = iota
	// SlotRecording slots belong to the current frame.
	SlotRecording
	// SlotSubmitted slots were submitted and may still be in flight.
	SlotSubmitted
)

// String returns the state name.
func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("SlotState(%d)", s)
	}
}

// frameSlot is one entry of the frame ring: the fence that retires it, the
// command pools its frame records into, the objects destroyed once it
// retires and the time queries it carries.
type frameSlot struct {
	index   int
	state   SlotState
	frame   uint64
	fence   gpucore.Fence
	pool    *lease.Pool
	garbage *garbage.Collector
	timing  timeQueries

	// retired is set once the fence was waited on and reset for the next
	// frame, so a failed begin retries without waiting on an unsubmitted
	// fence.
	retired bool
}

func newFrameSlot(d *Device, index int) (*frameSlot, error) {
	label := d.label(fmt.Sprintf("slot %d", index))

	fence, err := d.backend.NewFence(labelOf(label, "fence"))
	if err != nil {
		return nil, fmt.Errorf("gpuframe: slot %d fence: %w", index, err)
	}
	pool, err := lease.New(lease.Config{
		Backend: d.backend,
		Submit:  d.submit,
		Threads: d.ThreadCount,
		Logger:  Logger,
		Label:   label,
	})
	if err != nil {
		fence.Destroy()
		return nil, fmt.Errorf("gpuframe: slot %d: %w", index, err)
	}
	return &frameSlot{
		index:   index,
		fence:   fence,
		pool:    pool,
		garbage: garbage.New(d.ThreadCount, Logger),
	}, nil
}

func labelOf(prefix, what string) string {
	if prefix == "" {
		return ""
	}
	return prefix + " " + what
}

// begin waits for the slot's previous frame to retire and prepares it for
// frame. Nothing is destroyed or reset unless the fence signaled.
func (s *frameSlot) begin(frame uint64, timeout time.Duration) ([]TimeQuery, error) {
	if !s.retired {
		ok, err := s.fence.Wait(timeout)
		if err != nil {
			return nil, fmt.Errorf("gpuframe: slot %d fence wait: %w", s.index, errors.Join(ErrDeviceLost, err))
		}
		if !ok {
			return nil, fmt.Errorf("gpuframe: slot %d after %v: %w", s.index, timeout, ErrFenceTimeout)
		}
		// Pool growth can fail; the fence stays signaled until it succeeds.
		if err := s.pool.Grow(); err != nil {
			return nil, fmt.Errorf("gpuframe: slot %d: %w", s.index, err)
		}
		if err := s.fence.Reset(); err != nil {
			return nil, fmt.Errorf("gpuframe: slot %d fence reset: %w", s.index, err)
		}
		s.retired = true
	}

	// Results of the retired frame must be read before its recorders reset.
	results := s.timing.resolve()
	destroyed := s.garbage.Collect(frame)
	if err := s.pool.BeginFrame(frame); err != nil {
		return results, err
	}

	Logger().Debug("gpuframe: slot reused",
		"slot", s.index, "frame", frame, "previous", s.frame, "destroyed", destroyed)
	s.frame = frame
	s.state = SlotRecording
	s.retired = false
	return results, nil
}

// end submits the slot's recorded work with its fence.
func (s *frameSlot) end() error {
	err := s.pool.EndFrame(s.fence)
	s.state = SlotSubmitted
	return err
}

// release destroys the slot's pools and semaphore. Recorders of the current
// frame are discarded unsubmitted. The GPU must be idle.
func (s *frameSlot) release() {
	s.timing.discard()
	s.pool.Destroy()
}

// retire destroys every pending object and the fence. Every slot must have
// been released first so that no recorder still references the objects.
func (s *frameSlot) retire(frame uint64) int {
	n := s.garbage.Collect(frame)
	s.fence.Destroy()
	s.state = SlotIdle
	return n
}
