// Package garbage defers destruction of GPU objects until the frame that may
// reference them has retired on the GPU.
package garbage

import (
	"log/slog"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/threadslot"
)

// Collector stores objects scheduled for destruction during one ring slot.
//
// ScheduleDestruction is safe for concurrent use by goroutines holding
// distinct Locals. Collect runs single-threaded, after the slot's fence has
// signaled.
type Collector struct {
	slots   threadslot.Allocator
	trash   [][]gpucore.DeferredObject
	threads func() int
	logger  func() *slog.Logger
}

// New creates a collector sized for threads() goroutines.
func New(threads func() int, logger func() *slog.Logger) *Collector {
	return &Collector{
		trash:   make([][]gpucore.DeferredObject, max(threads(), 1)),
		threads: threads,
		logger:  logger,
	}
}

// ScheduleDestruction hands obj to the collector. The caller loses ownership
// immediately.
func (c *Collector) ScheduleDestruction(l *threadslot.Local, obj gpucore.DeferredObject) {
	if !obj.Valid() {
		c.logger().Warn("garbage: nil object scheduled for destruction", "kind", obj.Kind)
		return
	}
	idx := c.slots.Resolve(l)
	if idx >= len(c.trash) {
		c.logger().Error("garbage: thread slot exceeds thread count, clamping to slot 0",
			"slot", idx, "threads", len(c.trash))
		l.Clamp()
		idx = 0
	}
	c.trash[idx] = append(c.trash[idx], obj)
}

// Collect destroys every pending object and prepares the per-thread table for
// the given frame. It returns the number of destroyed objects.
func (c *Collector) Collect(frame uint64) int {
	n := 0
	for i, list := range c.trash {
		for _, obj := range list {
			obj.Destroy()
			n++
		}
		c.trash[i] = nil
	}

	// The thread count may change between frames.
	if want := max(c.threads(), 1); want != len(c.trash) {
		c.trash = make([][]gpucore.DeferredObject, want)
	}
	c.slots.Reset(frame)

	if n > 0 {
		c.logger().Debug("garbage: collected", "frame", frame, "objects", n)
	}
	return n
}

// Pending returns the number of objects awaiting collection.
// It must not run concurrently with ScheduleDestruction.
func (c *Collector) Pending() int {
	n := 0
	for _, list := range c.trash {
		n += len(list)
	}
	return n
}

// Threads returns the size of the per-thread table.
func (c *Collector) Threads() int {
	return len(c.trash)
}
