package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuframe/gpucore"
)

// CommandPool owns recorders. Recording into two recorders of one pool from
// different goroutines at the same time is a violation.
type CommandPool struct {
	backend   *Backend
	id        uint64
	label     string
	active    atomic.Int32
	recorders []*Recorder
	resets    int
	destroyed bool
}

// NewRecorder implements gpucore.CommandPool.
func (p *CommandPool) NewRecorder(level gpucore.Level) (gpucore.CommandRecorder, error) {
	p.enter()
	defer p.leave()
	r := &Recorder{pool: p, id: p.backend.nextID(), level: level}
	p.recorders = append(p.recorders, r)
	return r, nil
}

// Reset implements gpucore.CommandPool.
func (p *CommandPool) Reset() error {
	p.enter()
	defer p.leave()
	for _, r := range p.recorders {
		r.reset()
	}
	p.resets++
	return nil
}

// Resets returns how many times the pool was reset.
func (p *CommandPool) Resets() int { return p.resets }

// Label returns the debug label.
func (p *CommandPool) Label() string { return p.label }

// Destroy implements gpucore.Destroyable. Recorders of the pool are freed.
func (p *CommandPool) Destroy() {
	if p.destroyed {
		p.backend.violation()
		return
	}
	p.destroyed = true
	for _, r := range p.recorders {
		r.reset()
	}
	p.recorders = nil
	p.backend.live.Add(-1)
}

func (p *CommandPool) enter() {
	if p.active.Add(1) != 1 {
		p.backend.violation()
	}
}

func (p *CommandPool) leave() {
	p.active.Add(-1)
}

// Recorder is a simulated command buffer that logs recorded operations.
type Recorder struct {
	pool       *CommandPool
	id         uint64
	level      gpucore.Level
	recording  bool
	ops        []string
	generation uint64
	parent     *Recorder
	submitted  atomic.Uint64
}

// ID returns the recorder id.
func (r *Recorder) ID() uint64 { return r.id }

// Pool returns the owning pool.
func (r *Recorder) Pool() *CommandPool { return r.pool }

// Begin implements gpucore.CommandRecorder.
func (r *Recorder) Begin() error {
	r.pool.enter()
	defer r.pool.leave()
	if r.recording {
		return gpucore.ErrAlreadyRecording
	}
	r.recording = true
	r.ops = r.ops[:0]
	r.parent = nil
	return nil
}

// End implements gpucore.CommandRecorder.
func (r *Recorder) End() error {
	r.pool.enter()
	defer r.pool.leave()
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	r.recording = false
	return nil
}

// Reset implements gpucore.CommandRecorder.
func (r *Recorder) Reset() error {
	r.pool.enter()
	defer r.pool.leave()
	r.reset()
	return nil
}

func (r *Recorder) reset() {
	r.recording = false
	r.ops = nil
	r.parent = nil
	r.generation++
	r.submitted.Store(0)
}

// Recording implements gpucore.CommandRecorder.
func (r *Recorder) Recording() bool { return r.recording }

// Level implements gpucore.CommandRecorder.
func (r *Recorder) Level() gpucore.Level { return r.level }

// Record appends op to the recorder.
func (r *Recorder) Record(op string) error {
	r.pool.enter()
	defer r.pool.leave()
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	r.ops = append(r.ops, op)
	return nil
}

// Ops returns a copy of the recorded operations.
func (r *Recorder) Ops() []string {
	return append([]string(nil), r.ops...)
}

// ExecuteSecondary implements gpucore.CommandRecorder. The operations of each
// secondary are inlined in order.
func (r *Recorder) ExecuteSecondary(secondaries []gpucore.CommandRecorder) error {
	if r.level != gpucore.LevelPrimary {
		return gpucore.ErrRecorderLevel
	}
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	for _, s := range secondaries {
		sec, ok := s.(*Recorder)
		if !ok {
			return gpucore.ErrForeignObject
		}
		if sec.level != gpucore.LevelSecondary {
			return gpucore.ErrRecorderLevel
		}
		if sec.recording {
			return fmt.Errorf("software: secondary %d still recording: %w", sec.id, gpucore.ErrAlreadyRecording)
		}
		sec.parent = r
		r.ops = append(r.ops, sec.ops...)
	}
	return nil
}

// WriteTimestamp implements gpucore.TimestampWriter.
func (r *Recorder) WriteTimestamp() (gpucore.TimestampQuery, error) {
	ns := r.pool.backend.tick()
	if err := r.Record("timestamp"); err != nil {
		return nil, err
	}
	return &timestampQuery{rec: r, generation: r.generation, ns: ns}, nil
}

// inFlight reports whether the recorder's last submission, while still at
// generation gen, has not retired.
func (r *Recorder) inFlight(gen uint64) bool {
	root := r
	if r.parent != nil {
		root = r.parent
	}
	if r.generation != gen {
		return false
	}
	sub := root.submitted.Load()
	return sub == 0 || sub > root.pool.backend.completedIndex()
}

type timestampQuery struct {
	rec        *Recorder
	generation uint64
	ns         uint64
}

func (q *timestampQuery) Result() (uint64, bool) {
	root := q.rec
	if root.parent != nil {
		root = root.parent
	}
	if q.rec.generation != q.generation {
		return 0, false
	}
	sub := root.submitted.Load()
	if sub == 0 || sub > root.pool.backend.completedIndex() {
		return 0, false
	}
	return q.ns, true
}

// use tracks one command recorder referencing an object.
type use struct {
	rec        *Recorder
	generation uint64
}

// usage records recorders referencing an object so that destroying it while
// they are in flight is detected.
type usage struct {
	mu   sync.Mutex
	uses []use
}

func (u *usage) add(rec *Recorder) {
	u.mu.Lock()
	u.uses = append(u.uses, use{rec: rec, generation: rec.generation})
	u.mu.Unlock()
}

func (u *usage) inFlight() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, use := range u.uses {
		if use.rec.inFlight(use.generation) {
			return true
		}
	}
	return false
}

// RenderPass is a simulated render pass.
type RenderPass struct {
	backend   *Backend
	id        uint64
	desc      *gpucore.RenderPassDescriptor
	active    atomic.Int32
	destroyed atomic.Bool
	usage     usage
}

// ID returns the pass id.
func (rp *RenderPass) ID() uint64 { return rp.id }

// Descriptor returns the descriptor the pass was built for.
func (rp *RenderPass) Descriptor() *gpucore.RenderPassDescriptor { return rp.desc }

// Destroyed reports whether Destroy was called.
func (rp *RenderPass) Destroyed() bool { return rp.destroyed.Load() }

// Begin implements gpucore.RenderPass.
func (rp *RenderPass) Begin(rec gpucore.CommandRecorder) error {
	r, ok := rec.(*Recorder)
	if !ok {
		return gpucore.ErrForeignObject
	}
	if r.level != gpucore.LevelPrimary {
		return gpucore.ErrRecorderLevel
	}
	if !rp.active.CompareAndSwap(0, 1) {
		rp.backend.violation()
	}
	rp.usage.add(r)
	return r.Record(fmt.Sprintf("begin pass %d", rp.id))
}

// End implements gpucore.RenderPass.
func (rp *RenderPass) End(rec gpucore.CommandRecorder) error {
	r, ok := rec.(*Recorder)
	if !ok {
		return gpucore.ErrForeignObject
	}
	if !rp.active.CompareAndSwap(1, 0) {
		rp.backend.violation()
	}
	return r.Record(fmt.Sprintf("end pass %d", rp.id))
}

// Destroy implements gpucore.Destroyable.
func (rp *RenderPass) Destroy() {
	if rp.destroyed.Swap(true) || rp.usage.inFlight() {
		rp.backend.violation()
		return
	}
	rp.backend.live.Add(-1)
}

// Target is a simulated render target.
type Target struct {
	backend   *Backend
	handle    uint64
	view      uint64
	destroyed atomic.Bool
}

// Handle implements gpucore.Target.
func (t *Target) Handle() uint64 { return t.handle }

// ViewID implements gpucore.Target.
func (t *Target) ViewID() uint64 { return t.view }

// Destroy implements gpucore.Destroyable.
func (t *Target) Destroy() {
	if t.destroyed.Swap(true) {
		t.backend.violation()
		return
	}
	t.backend.live.Add(-1)
}

// Resource is a generic simulated GPU object.
type Resource struct {
	backend   *Backend
	id        uint64
	kind      gpucore.Kind
	destroyed atomic.Bool
	usage     usage
}

// ID returns the resource id.
func (r *Resource) ID() uint64 { return r.id }

// Kind returns the resource kind.
func (r *Resource) Kind() gpucore.Kind { return r.kind }

// Destroyed reports whether Destroy was called.
func (r *Resource) Destroyed() bool { return r.destroyed.Load() }

// Use records a reference to the resource in rec.
func (r *Resource) Use(rec gpucore.CommandRecorder) error {
	sr, ok := rec.(*Recorder)
	if !ok {
		return gpucore.ErrForeignObject
	}
	r.usage.add(sr)
	return sr.Record(fmt.Sprintf("use %s %d", r.kind, r.id))
}

// Destroy implements gpucore.Destroyable. Destroying a resource referenced
// by an unretired submission is a violation.
func (r *Resource) Destroy() {
	if r.destroyed.Swap(true) || r.usage.inFlight() {
		r.backend.violation()
		return
	}
	r.backend.live.Add(-1)
}

var (
	_ gpucore.CommandPool     = (*CommandPool)(nil)
	_ gpucore.CommandRecorder = (*Recorder)(nil)
	_ gpucore.TimestampWriter = (*Recorder)(nil)
	_ gpucore.RenderPass      = (*RenderPass)(nil)
	_ gpucore.Target          = (*Target)(nil)
)
