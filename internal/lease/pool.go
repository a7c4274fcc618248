// Package lease hands out per-thread command recorders for one ring slot.
//
// Every recording goroutine owns one command pool per slot, and with it one
// "resource" recorder for uploads and copies and one "draw" recorder for
// rendering. Resource work is submitted first and signals a semaphore the draw
// batch waits on, so draws observe completed resource mutations without a CPU
// stall. Secondary recorders for parallel render passes are allocated lazily
// from the owning goroutine's pool.
package lease

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/threadslot"
)

// ErrBlockNotReserved is returned for secondary recorders of a parallel block
// that was not reserved this frame.
var ErrBlockNotReserved = errors.New("lease: parallel block not reserved")

// SubmitFunc submits batches with a fence. The device serializes it with
// every other queue access.
type SubmitFunc func(batches []gpucore.SubmitBatch, fence gpucore.Fence) error

// Config configures a Pool.
type Config struct {
	Backend gpucore.Backend
	Submit  SubmitFunc
	Threads func() int
	Logger  func() *slog.Logger

	// Label prefixes debug labels of pools and semaphores. Empty disables
	// labels.
	Label string
}

type thread struct {
	pool     gpucore.CommandPool
	resource gpucore.CommandRecorder
	draw     gpucore.CommandRecorder
}

// Pool leases recorders to goroutines for one ring slot.
//
// Resource, Draw and Secondary are safe for concurrent use by goroutines
// holding distinct Locals. BeginFrame, EndFrame, ReserveParallelBlock and
// ExecuteSecondaryBlock run single-threaded.
type Pool struct {
	cfg       Config
	slots     threadslot.Allocator
	threads   []*thread
	semaphore gpucore.Semaphore

	// secondary holds blocks*stride recorders, indexed block*stride+slot.
	secondary []gpucore.CommandRecorder
	blocks    int
	stride    int
	frame     uint64
}

// New creates a pool and its resource-to-draw semaphore.
func New(cfg Config) (*Pool, error) {
	sem, err := cfg.Backend.NewSemaphore(cfg.label("semaphore"))
	if err != nil {
		return nil, fmt.Errorf("lease: create semaphore: %w", err)
	}
	return &Pool{cfg: cfg, semaphore: sem}, nil
}

func (c *Config) label(what string) string {
	if c.Label == "" {
		return ""
	}
	return c.Label + " " + what
}

// Grow creates command pools until the per-thread table covers the current
// thread count. Pools created before a failure are kept.
func (p *Pool) Grow() error {
	want := max(p.cfg.Threads(), 1)
	for i := len(p.threads); i < want; i++ {
		pool, err := p.cfg.Backend.NewCommandPool(p.cfg.label(fmt.Sprintf("thread %d", i)))
		if err != nil {
			return fmt.Errorf("lease: create pool %d: %w", i, err)
		}
		p.threads = append(p.threads, &thread{pool: pool})
	}
	return nil
}

// BeginFrame resets every command pool and grows the per-thread table to the
// current thread count.
func (p *Pool) BeginFrame(frame uint64) error {
	p.frame = frame
	p.slots.Reset(frame)
	p.blocks = 0

	for i, t := range p.threads {
		if err := t.pool.Reset(); err != nil {
			return fmt.Errorf("lease: reset pool %d: %w", i, err)
		}
	}
	if err := p.Grow(); err != nil {
		return err
	}

	// Secondary slots are addressed by stride; a new stride invalidates the
	// table layout. The recorders themselves stay owned by their pools.
	if p.stride != len(p.threads) {
		p.stride = len(p.threads)
		p.secondary = p.secondary[:0]
	}
	return nil
}

// slot resolves the caller's thread slot, clamping overflow to 0.
func (p *Pool) slot(l *threadslot.Local) int {
	idx := p.slots.Resolve(l)
	if idx >= len(p.threads) {
		p.cfg.Logger().Error("lease: thread slot exceeds thread count, clamping to slot 0",
			"slot", idx, "threads", len(p.threads))
		l.Clamp()
		return 0
	}
	return idx
}

func lazyBegin(pool gpucore.CommandPool, rec *gpucore.CommandRecorder, level gpucore.Level) (gpucore.CommandRecorder, error) {
	if *rec == nil {
		r, err := pool.NewRecorder(level)
		if err != nil {
			return nil, fmt.Errorf("lease: allocate %s recorder: %w", level, err)
		}
		*rec = r
	}
	if !(*rec).Recording() {
		if err := (*rec).Begin(); err != nil {
			return nil, fmt.Errorf("lease: begin %s recorder: %w", level, err)
		}
	}
	return *rec, nil
}

// Resource returns the caller's resource recorder, recording.
func (p *Pool) Resource(l *threadslot.Local) (gpucore.CommandRecorder, error) {
	t := p.threads[p.slot(l)]
	return lazyBegin(t.pool, &t.resource, gpucore.LevelPrimary)
}

// Draw returns the caller's draw recorder, recording.
func (p *Pool) Draw(l *threadslot.Local) (gpucore.CommandRecorder, error) {
	t := p.threads[p.slot(l)]
	return lazyBegin(t.pool, &t.draw, gpucore.LevelPrimary)
}

// ReserveParallelBlock makes room for one secondary recorder per thread and
// returns the block id. It must not run concurrently with Secondary.
func (p *Pool) ReserveParallelBlock() int {
	id := p.blocks
	p.blocks++
	if need := p.blocks * p.stride; need > len(p.secondary) {
		p.secondary = append(p.secondary, make([]gpucore.CommandRecorder, need-len(p.secondary))...)
	}
	return id
}

// Secondary returns the caller's secondary recorder of block, allocating it
// from the caller's own pool on first use.
func (p *Pool) Secondary(l *threadslot.Local, block int) (gpucore.CommandRecorder, error) {
	slot := p.slot(l)
	if block < 0 || block >= p.blocks {
		return nil, fmt.Errorf("%w: block %d of %d", ErrBlockNotReserved, block, p.blocks)
	}
	return lazyBegin(p.threads[slot].pool, &p.secondary[block*p.stride+slot], gpucore.LevelSecondary)
}

// ExecuteSecondaryBlock ends every recording secondary of block and appends
// them to primary in slot order.
func (p *Pool) ExecuteSecondaryBlock(block int, primary gpucore.CommandRecorder) error {
	if primary == nil || block < 0 || block >= p.blocks {
		p.cfg.Logger().Warn("lease: skipping secondary block execution",
			"block", block, "blocks", p.blocks, "primary", primary != nil)
		return fmt.Errorf("%w: block %d of %d", ErrBlockNotReserved, block, p.blocks)
	}

	begin := block * p.stride
	var recorded []gpucore.CommandRecorder
	for _, rec := range p.secondary[begin : begin+p.stride] {
		if rec == nil || !rec.Recording() {
			continue
		}
		if err := rec.End(); err != nil {
			return fmt.Errorf("lease: end secondary recorder: %w", err)
		}
		recorded = append(recorded, rec)
	}
	if len(recorded) == 0 {
		return nil
	}
	return primary.ExecuteSecondary(recorded)
}

// EndFrame ends every recorder used this frame and submits resource work
// followed by draw work. The fence is always submitted so that it signals
// even for frames that recorded nothing.
func (p *Pool) EndFrame(fence gpucore.Fence) error {
	var resource, draw []gpucore.CommandRecorder
	for _, t := range p.threads {
		if rec, ok := p.finish(t.resource); ok {
			resource = append(resource, rec)
		}
		if rec, ok := p.finish(t.draw); ok {
			draw = append(draw, rec)
		}
	}
	p.blocks = 0
	return p.cfg.Submit(Batches(resource, draw, p.semaphore), fence)
}

func (p *Pool) finish(rec gpucore.CommandRecorder) (gpucore.CommandRecorder, bool) {
	if rec == nil || !rec.Recording() {
		return nil, false
	}
	if err := rec.End(); err != nil {
		p.cfg.Logger().Error("lease: end recorder failed, dropping its work", "frame", p.frame, "err", err)
		return nil, false
	}
	return rec, true
}

// Batches orders resource work before draw work. When both are present the
// resource batch signals sem and the draw batch waits on it.
func Batches(resource, draw []gpucore.CommandRecorder, sem gpucore.Semaphore) []gpucore.SubmitBatch {
	var batches []gpucore.SubmitBatch
	both := len(resource) > 0 && len(draw) > 0
	if len(resource) > 0 {
		b := gpucore.SubmitBatch{Recorders: resource}
		if both {
			b.Signal = []gpucore.Semaphore{sem}
		}
		batches = append(batches, b)
	}
	if len(draw) > 0 {
		b := gpucore.SubmitBatch{Recorders: draw}
		if both {
			b.Wait = []gpucore.Semaphore{sem}
		}
		batches = append(batches, b)
	}
	return batches
}

// Threads returns the number of per-thread entries.
func (p *Pool) Threads() int {
	return len(p.threads)
}

// Blocks returns the number of parallel blocks reserved this frame.
func (p *Pool) Blocks() int {
	return p.blocks
}

// Destroy releases every pool and the semaphore. The GPU must be idle.
func (p *Pool) Destroy() {
	for _, t := range p.threads {
		t.pool.Destroy()
	}
	p.threads = nil
	p.secondary = nil
	if p.semaphore != nil {
		p.semaphore.Destroy()
		p.semaphore = nil
	}
}
