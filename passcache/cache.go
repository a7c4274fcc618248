// Package passcache caches render passes by structural descriptor.
//
// The cache keeps a shared table that is read without locks during a frame
// and only mutated between frames. Goroutines that miss the shared table
// build passes into a private staging list; EndFrame merges every staging
// list into the shared table, orders it by last use and evicts the oldest
// entries beyond capacity.
//
// A pass cannot be recorded into two command buffers at the same time, so
// shared entries carry an acquire flag: Acquire skips entries another
// goroutine holds and Release frees them for reuse within the same frame.
// Staged entries are private to their goroutine and are not flagged.
//
// Two identical descriptors requested by different goroutines in the same
// frame produce two passes; the duplicates live side by side in the shared
// table until eviction removes one of them.
package passcache

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/threadslot"
)

// DefaultCapacity is the shared table size used when none is configured.
const DefaultCapacity = 32

// Builder constructs the render pass for a descriptor on a cache miss.
type Builder func(desc *gpucore.RenderPassDescriptor) (gpucore.RenderPass, error)

// Config configures a Cache.
type Config struct {
	Build    Builder
	Capacity int
	Threads  func() int
	Logger   func() *slog.Logger
}

// Entry is a cached render pass.
type Entry struct {
	desc     *gpucore.RenderPassDescriptor
	views    []uint64
	pass     gpucore.RenderPass
	lastUsed atomic.Uint64
	inUse    atomic.Bool
}

// Pass returns the render pass.
func (e *Entry) Pass() gpucore.RenderPass { return e.pass }

// Descriptor returns the descriptor the pass was built for.
func (e *Entry) Descriptor() *gpucore.RenderPassDescriptor { return e.desc }

// LastUsed returns the last frame the entry was acquired in.
func (e *Entry) LastUsed() uint64 { return e.lastUsed.Load() }

// TryAcquire marks the entry in use. It reports false if another goroutine
// holds it.
func (e *Entry) TryAcquire() bool {
	return e.inUse.CompareAndSwap(false, true)
}

// InUse reports whether the entry is acquired.
func (e *Entry) InUse() bool { return e.inUse.Load() }

// matches compares desc structurally and checks that its targets are still
// backed by the views the pass was built against. A handle reissued to a new
// resource has a different view and never matches.
func (e *Entry) matches(desc *gpucore.RenderPassDescriptor) bool {
	return e.desc.Equal(desc) && desc.MatchesViews(e.views)
}

// Cache is the render-pass compatibility cache.
type Cache struct {
	cfg     Config
	shared  []*Entry
	staging [][]*Entry
	slots   threadslot.Allocator
	frame   uint64
	started bool
}

// New creates a cache.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Cache{
		cfg:     cfg,
		staging: make([][]*Entry, max(cfg.Threads(), 1)),
	}
}

// Acquire returns a pass compatible with desc, building one on a miss.
//
// Acquire is safe for concurrent use by goroutines holding distinct Locals.
func (c *Cache) Acquire(l *threadslot.Local, desc *gpucore.RenderPassDescriptor) (*Entry, error) {
	// The shared table is not mutated until EndFrame.
	for _, e := range c.shared {
		if e.matches(desc) && e.TryAcquire() {
			e.lastUsed.Store(c.frame)
			return e, nil
		}
	}

	idx := c.slots.Resolve(l)
	if idx >= len(c.staging) {
		c.cfg.Logger().Error("passcache: thread slot exceeds thread count, clamping to slot 0",
			"slot", idx, "threads", len(c.staging))
		l.Clamp()
		idx = 0
	}

	for _, e := range c.staging[idx] {
		if e.matches(desc) {
			e.lastUsed.Store(c.frame)
			return e, nil
		}
	}

	pass, err := c.cfg.Build(desc)
	if err != nil {
		return nil, fmt.Errorf("passcache: build render pass: %w", err)
	}
	e := &Entry{
		desc:  desc.Clone(),
		views: desc.ViewIDs(),
		pass:  pass,
	}
	e.lastUsed.Store(c.frame)
	c.staging[idx] = append(c.staging[idx], e)
	return e, nil
}

// Release frees an entry for reuse by another goroutine. Releasing a staged
// entry is a no-op.
func (c *Cache) Release(e *Entry) {
	if e != nil {
		e.inUse.Store(false)
	}
}

// BeginFrame records the frame number and sizes the staging table. It is a
// no-op until the matching EndFrame.
func (c *Cache) BeginFrame(frame uint64) {
	if c.started {
		return
	}
	c.started = true
	c.frame = frame
	c.slots.Reset(frame)

	if want := max(c.cfg.Threads(), 1); want > len(c.staging) {
		c.staging = append(c.staging, make([][]*Entry, want-len(c.staging))...)
	}
}

// EndFrame merges staged entries into the shared table and evicts the least
// recently used entries beyond capacity. The caller owns the returned
// entries' passes and must destroy them once the GPU no longer uses them.
func (c *Cache) EndFrame() []*Entry {
	// Staged entries go first so that they outlive older entries of equal
	// recency.
	var merged []*Entry
	for i, staged := range c.staging {
		merged = append(merged, staged...)
		c.staging[i] = nil
	}
	c.shared = append(merged, c.shared...)
	c.started = false

	if len(c.shared) <= c.cfg.Capacity {
		return nil
	}

	// Newest first so the oldest entries form the tail.
	slices.SortStableFunc(c.shared, func(a, b *Entry) int {
		return compareDesc(a.LastUsed(), b.LastUsed())
	})
	evicted := slices.Clone(c.shared[c.cfg.Capacity:])
	clear(c.shared[c.cfg.Capacity:])
	c.shared = c.shared[:c.cfg.Capacity]

	c.cfg.Logger().Debug("passcache: evicted render passes",
		"frame", c.frame, "evicted", len(evicted), "size", len(c.shared))
	return evicted
}

func compareDesc(a, b uint64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

// Clear merges staged entries and empties the cache, returning every entry.
func (c *Cache) Clear() []*Entry {
	for i, staged := range c.staging {
		c.shared = append(c.shared, staged...)
		c.staging[i] = nil
	}
	c.started = false
	all := c.shared
	c.shared = nil
	return all
}

// Len returns the number of shared entries.
func (c *Cache) Len() int { return len(c.shared) }

// Capacity returns the shared table capacity.
func (c *Cache) Capacity() int { return c.cfg.Capacity }

// Frame returns the frame recorded by the last BeginFrame.
func (c *Cache) Frame() uint64 { return c.frame }
