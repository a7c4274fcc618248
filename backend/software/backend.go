// Package software provides an in-memory gpucore.Backend.
//
// Nothing is rendered. Recorders keep a log of recorded operations,
// submissions are kept in order, and fences signal when the simulated GPU
// retires their submission. Completion is immediate by default; it can be
// delayed by a fixed latency or driven manually with Complete, which makes
// frame pacing fully deterministic in tests.
//
// The backend also checks the external synchronization rules of the
// contracts: concurrent recording into one pool, double destruction and
// destruction of objects still referenced by unretired submissions are
// counted as violations.
package software

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/gpucore"
)

func init() {
	backend.Register(backend.NameSoftware, func() (gpucore.Backend, error) {
		return New(), nil
	})
}

// Option configures a Backend.
type Option func(*Backend)

// WithManualCompletion keeps every submission in flight until Complete or
// CompleteAll is called.
func WithManualCompletion() Option {
	return func(b *Backend) {
		b.manual = true
	}
}

// WithLatency retires each submission after d of simulated GPU time.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) {
		b.latency = d
	}
}

// Backend is a simulated GPU.
type Backend struct {
	manual  bool
	latency time.Duration

	mu          sync.Mutex
	submissions []*Submission
	submitted   uint64
	completed   uint64
	changed     chan struct{}
	passes      []*RenderPass

	ids        atomic.Uint64
	clock      atomic.Uint64
	live       atomic.Int64
	violations atomic.Int64
	queue      *Queue
}

// New creates a software backend.
func New(opts ...Option) *Backend {
	b := &Backend{changed: make(chan struct{})}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = &Queue{backend: b}
	return b
}

func (b *Backend) nextID() uint64 {
	return b.ids.Add(1)
}

// NewCommandPool implements gpucore.Backend.
func (b *Backend) NewCommandPool(label string) (gpucore.CommandPool, error) {
	b.live.Add(1)
	return &CommandPool{backend: b, id: b.nextID(), label: label}, nil
}

// NewFence implements gpucore.Backend. The fence starts signaled.
func (b *Backend) NewFence(label string) (gpucore.Fence, error) {
	b.live.Add(1)
	return &Fence{backend: b, id: b.nextID(), label: label}, nil
}

// NewSemaphore implements gpucore.Backend.
func (b *Backend) NewSemaphore(label string) (gpucore.Semaphore, error) {
	b.live.Add(1)
	return &Semaphore{backend: b, id: b.nextID(), label: label}, nil
}

// NewRenderPass implements gpucore.Backend.
func (b *Backend) NewRenderPass(desc *gpucore.RenderPassDescriptor) (gpucore.RenderPass, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	b.live.Add(1)
	rp := &RenderPass{backend: b, id: b.nextID(), desc: desc.Clone()}
	b.mu.Lock()
	b.passes = append(b.passes, rp)
	b.mu.Unlock()
	return rp, nil
}

// Queue implements gpucore.Backend.
func (b *Backend) Queue() gpucore.Queue {
	return b.queue
}

// WaitIdle implements gpucore.Backend. With manual completion it retires
// every outstanding submission.
func (b *Backend) WaitIdle() error {
	if b.manual {
		b.CompleteAll()
		return nil
	}
	b.mu.Lock()
	target := b.submitted
	b.mu.Unlock()
	b.waitFor(target, math.MaxInt64)
	return nil
}

// NewTarget creates a render target bound to handle with a fresh view id.
// Reusing a handle models a client that freed and reissued it.
func (b *Backend) NewTarget(handle uint64) *Target {
	b.live.Add(1)
	return &Target{backend: b, handle: handle, view: b.nextID()}
}

// NewResource creates a generic destroyable GPU object.
func (b *Backend) NewResource(kind gpucore.Kind) *Resource {
	b.live.Add(1)
	return &Resource{backend: b, id: b.nextID(), kind: kind}
}

// Complete retires the oldest n in-flight submissions.
func (b *Backend) Complete(n int) {
	b.mu.Lock()
	b.completed = min(b.completed+uint64(n), b.submitted)
	b.broadcastLocked()
	b.mu.Unlock()
}

// CompleteAll retires every in-flight submission.
func (b *Backend) CompleteAll() {
	b.mu.Lock()
	b.completed = b.submitted
	b.broadcastLocked()
	b.mu.Unlock()
}

// InFlight returns the number of submissions not yet retired.
func (b *Backend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.submitted - b.completed)
}

// Submissions returns a copy of every submission made so far, in order.
func (b *Backend) Submissions() []*Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Submission(nil), b.submissions...)
}

// RenderPasses returns every render pass built so far.
func (b *Backend) RenderPasses() []*RenderPass {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*RenderPass(nil), b.passes...)
}

// Live returns the number of objects created and not yet destroyed.
func (b *Backend) Live() int {
	return int(b.live.Load())
}

// Violations returns the number of contract violations observed.
func (b *Backend) Violations() int {
	return int(b.violations.Load())
}

func (b *Backend) violation() {
	b.violations.Add(1)
}

// completedIndex returns the highest retired submission index.
func (b *Backend) completedIndex() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// retire marks submission idx complete. Submissions retire in order.
func (b *Backend) retire(idx uint64) {
	b.mu.Lock()
	if idx > b.completed {
		b.completed = idx
		b.broadcastLocked()
	}
	b.mu.Unlock()
}

func (b *Backend) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// waitFor blocks until submission target retires or timeout expires.
func (b *Backend) waitFor(target uint64, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout < math.MaxInt64 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		b.mu.Lock()
		if b.completed >= target {
			b.mu.Unlock()
			return true
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return b.completedIndex() >= target
		}
	}
}

// tick advances the simulated GPU clock and returns the new time.
func (b *Backend) tick() uint64 {
	return b.clock.Add(uint64(time.Microsecond))
}

var _ gpucore.Backend = (*Backend)(nil)
