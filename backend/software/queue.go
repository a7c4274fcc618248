package software

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpuframe/gpucore"
)

// Submission is one recorded Queue.Submit call.
type Submission struct {
	Index   uint64
	Batches []Batch
	Fence   *Fence
}

// Batch is the recorded form of a gpucore.SubmitBatch.
type Batch struct {
	Recorders []*Recorder
	Ops       [][]string
	Wait      []*Semaphore
	Signal    []*Semaphore
}

// Queue records submissions. It is not safe for concurrent use; a concurrent
// Submit is counted as a violation.
type Queue struct {
	backend *Backend
	busy    bool
}

// Submit implements gpucore.Queue.
func (q *Queue) Submit(batches []gpucore.SubmitBatch, fence gpucore.Fence) error {
	b := q.backend

	b.mu.Lock()
	if q.busy {
		b.violation()
	}
	q.busy = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		q.busy = false
		b.mu.Unlock()
	}()

	sub := &Submission{}
	for _, batch := range batches {
		rb := Batch{}
		for _, r := range batch.Recorders {
			rec, ok := r.(*Recorder)
			if !ok {
				return fmt.Errorf("software: submit: %w", gpucore.ErrForeignObject)
			}
			if rec.Recording() || rec.level != gpucore.LevelPrimary {
				return fmt.Errorf("software: submit recorder %d: %w", rec.id, gpucore.ErrRecorderLevel)
			}
			rb.Recorders = append(rb.Recorders, rec)
			rb.Ops = append(rb.Ops, rec.Ops())
		}
		for _, s := range batch.Wait {
			rb.Wait = append(rb.Wait, s.(*Semaphore))
		}
		for _, s := range batch.Signal {
			rb.Signal = append(rb.Signal, s.(*Semaphore))
		}
		sub.Batches = append(sub.Batches, rb)
	}
	if fence != nil {
		f, ok := fence.(*Fence)
		if !ok {
			return fmt.Errorf("software: submit fence: %w", gpucore.ErrForeignObject)
		}
		sub.Fence = f
	}

	b.mu.Lock()
	b.submitted++
	sub.Index = b.submitted
	b.submissions = append(b.submissions, sub)
	for _, batch := range sub.Batches {
		for _, rec := range batch.Recorders {
			rec.submitted.Store(sub.Index)
		}
	}
	if sub.Fence != nil {
		sub.Fence.target.Store(sub.Index)
	}
	switch {
	case b.manual:
	case b.latency > 0:
		idx := sub.Index
		time.AfterFunc(b.latency*time.Duration(idx-b.completed), func() { b.retire(idx) })
	default:
		b.completed = sub.Index
		b.broadcastLocked()
	}
	b.mu.Unlock()
	return nil
}

// Fence is a simulated fence signaled by submission index.
type Fence struct {
	backend   *Backend
	id        uint64
	label     string
	target    atomic.Uint64
	destroyed bool
}

// Wait implements gpucore.Fence.
func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	return f.backend.waitFor(f.target.Load(), timeout), nil
}

// Reset implements gpucore.Fence.
func (f *Fence) Reset() error {
	f.target.Store(math.MaxUint64)
	return nil
}

// Signaled implements gpucore.Fence.
func (f *Fence) Signaled() (bool, error) {
	return f.backend.completedIndex() >= f.target.Load(), nil
}

// Destroy implements gpucore.Destroyable.
func (f *Fence) Destroy() {
	if f.destroyed {
		f.backend.violation()
		return
	}
	f.destroyed = true
	f.backend.live.Add(-1)
}

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

// Semaphore is a simulated GPU semaphore.
type Semaphore struct {
	backend   *Backend
	id        uint64
	label     string
	destroyed bool
}

// Destroy implements gpucore.Destroyable.
func (s *Semaphore) Destroy() {
	if s.destroyed {
		s.backend.violation()
		return
	}
	s.destroyed = true
	s.backend.live.Add(-1)
}

// Label returns the debug label.
func (s *Semaphore) Label() string { return s.label }

var (
	_ gpucore.Queue     = (*Queue)(nil)
	_ gpucore.Fence     = (*Fence)(nil)
	_ gpucore.Semaphore = (*Semaphore)(nil)
)
