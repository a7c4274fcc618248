package gpuframe

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/gpuframe/gpucore"
)

// PipelineCache caches GPU objects such as pipelines or samplers by a
// comparable key and bounds their number with LRU eviction. Evicted objects
// may still be referenced by frames in flight, so they are scheduled for
// destruction instead of destroyed.
//
// PipelineCache is safe for concurrent use by goroutines with distinct
// Workers.
type PipelineCache[K comparable, V gpucore.Destroyable] struct {
	kind    gpucore.Kind
	entries *lru.Cache[K, V]

	mu      sync.Mutex
	evicted []V

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// PipelineCacheStats is a snapshot of cache counters.
type PipelineCacheStats struct {
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// NewPipelineCache creates a cache holding up to size objects of kind.
func NewPipelineCache[K comparable, V gpucore.Destroyable](kind gpucore.Kind, size int) (*PipelineCache[K, V], error) {
	c := &PipelineCache[K, V]{kind: kind}
	entries, err := lru.NewWithEvict[K, V](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("gpuframe: pipeline cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

func (c *PipelineCache[K, V]) onEvict(_ K, v V) {
	c.mu.Lock()
	c.evicted = append(c.evicted, v)
	c.mu.Unlock()
	c.evictions.Add(1)
}

// Get returns the object cached for key, building it with build on a miss.
// When two goroutines build the same key concurrently, the object of the
// loser is scheduled for destruction and the cached one is returned.
func (c *PipelineCache[K, V]) Get(w *Worker, key K, build func(K) (V, error)) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err := build(key)
	if err != nil {
		var zero V
		return zero, err
	}
	if found, _ := c.entries.ContainsOrAdd(key, v); found {
		if existing, ok := c.entries.Get(key); ok {
			w.ScheduleDestruction(gpucore.Defer(c.kind, v))
			v = existing
		} else {
			c.entries.Add(key, v)
		}
	}
	c.flush(w)
	return v, nil
}

// Remove drops key from the cache and schedules its object for destruction.
func (c *PipelineCache[K, V]) Remove(w *Worker, key K) bool {
	present := c.entries.Remove(key)
	c.flush(w)
	return present
}

// Purge empties the cache, scheduling every object for destruction.
func (c *PipelineCache[K, V]) Purge(w *Worker) {
	c.entries.Purge()
	c.flush(w)
}

// Len returns the number of cached objects.
func (c *PipelineCache[K, V]) Len() int {
	return c.entries.Len()
}

// Stats returns the cache counters. Evictions counts every object handed to
// deferred destruction, including removed and purged ones.
func (c *PipelineCache[K, V]) Stats() PipelineCacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return PipelineCacheStats{
		Size:      c.entries.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   rate,
	}
}

// flush schedules evicted objects on w.
func (c *PipelineCache[K, V]) flush(w *Worker) {
	c.mu.Lock()
	evicted := c.evicted
	c.evicted = nil
	c.mu.Unlock()

	for _, v := range evicted {
		w.ScheduleDestruction(gpucore.Defer(c.kind, v))
	}
}
