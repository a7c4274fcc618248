// Package threadslot hands out per-frame slot indices to recording goroutines.
//
// An Allocator belongs to one per-thread table (a lease pool, a garbage
// collector, a staging cache). Each goroutine keeps a Local per table role.
// Resolve returns the same index for a Local until the allocator moves to a
// new frame or the Local is used with a different allocator, at which point
// a fresh index is drawn from the allocator's atomic counter.
package threadslot

import "sync/atomic"

// Allocator issues slot indices for one frame at a time.
//
// Reset must not run concurrently with Resolve.
type Allocator struct {
	next  atomic.Uint32
	frame atomic.Uint64
}

// Reset starts a new frame: the counter returns to zero and every Local
// resolved against an earlier frame is invalidated.
func (a *Allocator) Reset(frame uint64) {
	a.frame.Store(frame)
	a.next.Store(0)
}

// Frame returns the frame the allocator was last reset for.
func (a *Allocator) Frame() uint64 {
	return a.frame.Load()
}

// Issued returns the number of slots handed out since the last Reset.
func (a *Allocator) Issued() int {
	return int(a.next.Load())
}

// Resolve returns the caller's slot for the current frame, drawing a new one
// if l was last resolved against another allocator or frame.
func (a *Allocator) Resolve(l *Local) int {
	frame := a.frame.Load()
	if l.owner == a && l.frame == frame {
		return l.index
	}
	l.owner = a
	l.frame = frame
	l.index = int(a.next.Add(1) - 1)
	return l.index
}

// Local is a goroutine's cached slot for one allocator.
// The zero value is ready to use. A Local must not be shared between
// goroutines.
type Local struct {
	owner *Allocator
	frame uint64
	index int
}

// Clamp replaces the cached index with 0. It is used when the resolved index
// overflows the table it addresses.
func (l *Local) Clamp() {
	l.index = 0
}

// Index returns the cached index without resolving it.
func (l *Local) Index() int {
	return l.index
}
