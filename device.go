package gpuframe

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/passcache"
)

// Device schedules command recording, submission and deferred destruction
// over a ring of frames in flight.
//
// BeginFrame, EndFrame, ReserveParallelBlock, ExecuteSecondaryBlock and Close
// are called from one goroutine at a time and never concurrently with the
// Worker methods of the same frame. Worker methods are safe for concurrent
// use as long as each goroutine uses its own Worker. SubmitImmediate,
// WaitIdle and the read-only accessors are safe from any goroutine.
type Device struct {
	backend gpucore.Backend
	opts    options

	// frameMu serializes frame transitions and Close.
	frameMu   sync.Mutex
	slots     []*frameSlot
	cur       atomic.Pointer[frameSlot]
	frame     atomic.Uint64
	recording bool

	// queueMu serializes every use of the backend queue.
	queueMu sync.Mutex

	cache *passcache.Cache
	main  *Worker

	imm immediate

	queriesMu sync.Mutex
	queries   []TimeQuery

	lost   atomic.Bool
	closed atomic.Bool
}

// NewDevice creates a device on b and begins frame 1.
func NewDevice(b gpucore.Backend, opts ...Option) (*Device, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.ringSize < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRingSize, o.ringSize)
	}

	d := &Device{backend: b, opts: o}
	d.cache = passcache.New(passcache.Config{
		Build:    b.NewRenderPass,
		Capacity: o.cacheCapacity,
		Threads:  d.ThreadCount,
		Logger:   Logger,
	})
	for i := range o.ringSize {
		slot, err := newFrameSlot(d, i)
		if err != nil {
			d.releaseSlots()
			return nil, err
		}
		d.slots = append(d.slots, slot)
	}
	d.main = d.NewWorker()

	if err := d.BeginFrame(); err != nil {
		d.releaseSlots()
		return nil, err
	}
	trackBackend(b)

	Logger().Info("gpuframe: device created",
		"ring", o.ringSize, "threads", d.ThreadCount(), "cache", d.cache.Capacity())
	return d, nil
}

func (d *Device) releaseSlots() {
	for _, s := range d.slots {
		s.release()
	}
	for _, s := range d.slots {
		s.retire(0)
	}
	d.slots = nil
}

func (d *Device) label(s string) string {
	if !d.opts.debugLabels {
		return ""
	}
	return "gpuframe " + s
}

// BeginFrame starts the next frame. It waits until the ring slot the frame
// reuses has retired on the GPU, destroys the objects scheduled during that
// slot's previous frame and resets its command pools.
//
// BeginFrame is idempotent: while a frame is recording it does nothing.
// EndFrame begins the next frame itself, so callers only need BeginFrame
// after an error.
//
// If the slot does not retire within the fence timeout the device is marked
// lost and ErrFenceTimeout is returned. No pending object is destroyed and no
// pool is reset in that case.
func (d *Device) BeginFrame() error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.beginFrameLocked()
}

func (d *Device) beginFrameLocked() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.lost.Load() {
		return ErrDeviceLost
	}
	if d.recording {
		return nil
	}

	frame := d.frame.Load() + 1
	slot := d.slots[frame%uint64(len(d.slots))]
	results, err := slot.begin(frame, d.opts.fenceTimeout)
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			d.markLost(err)
		}
		return err
	}

	if results != nil {
		d.queriesMu.Lock()
		d.queries = results
		d.queriesMu.Unlock()
	}
	d.cache.BeginFrame(frame)
	d.frame.Store(frame)
	d.cur.Store(slot)
	d.recording = true
	return nil
}

// EndFrame submits the current frame and begins the next one.
//
// Resource recorders are submitted before draw recorders. Render passes
// evicted from the pass cache are scheduled for destruction on the slot just
// submitted, so they outlive every frame that may still reference them.
func (d *Device) EndFrame() error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}
	if !d.recording {
		return d.beginFrameLocked()
	}

	slot := d.currentSlot()
	err := slot.end()
	for _, e := range d.cache.EndFrame() {
		d.main.ScheduleDestruction(gpucore.Defer(gpucore.KindRenderPass, e.Pass()))
	}
	d.recording = false
	if err != nil {
		return err
	}
	return d.beginFrameLocked()
}

// submit is the only path to the backend queue besides WaitIdle.
func (d *Device) submit(batches []gpucore.SubmitBatch, fence gpucore.Fence) error {
	if len(batches) == 0 && fence == nil {
		Logger().Warn("gpuframe: skipping empty submission")
		return nil
	}

	d.queueMu.Lock()
	err := d.backend.Queue().Submit(batches, fence)
	d.queueMu.Unlock()

	if err != nil {
		err = fmt.Errorf("gpuframe: queue rejected submission: %w", errors.Join(ErrDeviceLost, err))
		d.markLost(err)
		return err
	}
	return nil
}

func (d *Device) markLost(err error) {
	if !d.lost.Swap(true) {
		Logger().Error("gpuframe: device lost", "frame", d.frame.Load(), "err", err)
	}
}

// FrameWorker returns the Worker of the goroutine that drives BeginFrame and
// EndFrame. The device uses it to schedule evicted render passes, so that
// goroutine should record through it instead of creating its own.
func (d *Device) FrameWorker() *Worker {
	return d.main
}

// currentSlot returns the ring slot of the recording frame.
func (d *Device) currentSlot() *frameSlot {
	return d.cur.Load()
}

// Frame returns the number of the recording frame. Frames start at 1.
func (d *Device) Frame() uint64 {
	return d.frame.Load()
}

// Slot returns the ring index of the recording frame.
func (d *Device) Slot() int {
	return d.currentSlot().index
}

// SlotState returns the state of ring slot i.
func (d *Device) SlotState(i int) SlotState {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if i < 0 || i >= len(d.slots) {
		return SlotIdle
	}
	return d.slots[i].state
}

// RingSize returns the number of frames that may be in flight.
func (d *Device) RingSize() int {
	return d.opts.ringSize
}

// ThreadCount returns the current number of goroutines that may record
// concurrently.
func (d *Device) ThreadCount() int {
	return max(d.opts.threads(), 1)
}

// Backend returns the backend the device schedules work on.
func (d *Device) Backend() gpucore.Backend {
	return d.backend
}

// Lost reports whether the device was lost.
func (d *Device) Lost() bool {
	return d.lost.Load()
}

// PassCache returns the render-pass cache.
func (d *Device) PassCache() *passcache.Cache {
	return d.cache
}

// TimeQueries returns the time queries of the most recently retired frame
// that recorded any.
func (d *Device) TimeQueries() []TimeQuery {
	d.queriesMu.Lock()
	defer d.queriesMu.Unlock()
	return append([]TimeQuery(nil), d.queries...)
}

// ReserveParallelBlock reserves a block of secondary recorders, one per
// thread, for the current frame and returns its id.
func (d *Device) ReserveParallelBlock() int {
	return d.currentSlot().pool.ReserveParallelBlock()
}

// ExecuteSecondaryBlock ends the secondary recorders of block and executes
// them into primary in thread order.
func (d *Device) ExecuteSecondaryBlock(block int, primary gpucore.CommandRecorder) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return d.currentSlot().pool.ExecuteSecondaryBlock(block, primary)
}

// WaitIdle blocks until the GPU has finished all submitted work.
func (d *Device) WaitIdle() error {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.backend.WaitIdle()
}

// Close waits for the GPU and destroys everything the device owns: work
// recorded for the current frame is discarded, every scheduled object and
// every cached render pass is destroyed. Close is idempotent.
func (d *Device) Close() error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if d.closed.Swap(true) {
		return nil
	}
	untrackBackend(d.backend)

	err := d.WaitIdle()
	d.imm.destroy()

	// Pools go first so that no recorder references the objects destroyed
	// below.
	for _, s := range d.slots {
		s.release()
	}
	passes := d.cache.Clear()
	for _, e := range passes {
		e.Pass().Destroy()
	}
	destroyed := len(passes)
	for _, s := range d.slots {
		destroyed += s.retire(d.frame.Load())
	}
	d.recording = false

	Logger().Info("gpuframe: device closed", "frame", d.frame.Load(), "destroyed", destroyed)
	return err
}
