package gpuframe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpuframe/gpucore"
)

// immediate owns the command pool of SubmitImmediate. It is independent of
// the frame ring.
type immediate struct {
	mu   sync.Mutex
	pool gpucore.CommandPool
	rec  gpucore.CommandRecorder
}

func (im *immediate) recorder(d *Device) (gpucore.CommandRecorder, error) {
	if im.rec != nil {
		return im.rec, nil
	}
	pool, err := d.backend.NewCommandPool(d.label("immediate pool"))
	if err != nil {
		return nil, err
	}
	rec, err := pool.NewRecorder(gpucore.LevelPrimary)
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	im.pool, im.rec = pool, rec
	return rec, nil
}

func (im *immediate) destroy() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.pool != nil {
		im.pool.Destroy()
		im.pool, im.rec = nil, nil
	}
}

// SubmitImmediate records with record, submits the result on its own and
// blocks until the GPU has executed it. It stalls the CPU and is meant for
// one-off uploads and readbacks outside the frame loop.
//
// SubmitImmediate is safe for concurrent use; calls are serialized.
func (d *Device) SubmitImmediate(record func(rec gpucore.CommandRecorder) error) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.lost.Load() {
		return ErrDeviceLost
	}

	d.imm.mu.Lock()
	defer d.imm.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}

	rec, err := d.imm.recorder(d)
	if err != nil {
		return fmt.Errorf("gpuframe: immediate recorder: %w", err)
	}
	defer func() {
		if err := d.imm.pool.Reset(); err != nil {
			Logger().Warn("gpuframe: immediate pool reset failed", "err", err)
		}
	}()

	if err := rec.Begin(); err != nil {
		return fmt.Errorf("gpuframe: immediate begin: %w", err)
	}
	if err := record(rec); err != nil {
		return errors.Join(err, rec.End())
	}
	if err := rec.End(); err != nil {
		return fmt.Errorf("gpuframe: immediate end: %w", err)
	}

	fence, err := d.backend.NewFence(d.label("immediate fence"))
	if err != nil {
		return fmt.Errorf("gpuframe: immediate fence: %w", err)
	}
	defer fence.Destroy()
	if err := fence.Reset(); err != nil {
		return fmt.Errorf("gpuframe: immediate fence reset: %w", err)
	}

	batches := []gpucore.SubmitBatch{{Recorders: []gpucore.CommandRecorder{rec}}}
	if err := d.submit(batches, fence); err != nil {
		return err
	}
	ok, err := fence.Wait(d.opts.fenceTimeout)
	if err != nil {
		err = fmt.Errorf("gpuframe: immediate fence wait: %w", errors.Join(ErrDeviceLost, err))
		d.markLost(err)
		return err
	}
	if !ok {
		err := fmt.Errorf("gpuframe: immediate submission: %w", ErrFenceTimeout)
		d.markLost(err)
		return err
	}
	return nil
}
