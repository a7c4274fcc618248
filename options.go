package gpuframe

import (
	"runtime"
	"time"

	"github.com/gogpu/gpuframe/passcache"
)

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := gpuframe.NewDevice(b,
//	    gpuframe.WithRingSize(2),
//	    gpuframe.WithThreadCount(func() int { return workers + 1 }),
//	)
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	ringSize      int
	threads       func() int
	fenceTimeout  time.Duration
	cacheCapacity int
	debugLabels   bool
}

// DefaultRingSize is the number of frames in flight when none is configured.
const DefaultRingSize = 3

// DefaultFenceTimeout bounds the wait for a ring slot to retire. A slot that
// does not retire in time is treated as device loss.
const DefaultFenceTimeout = 10 * time.Second

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		ringSize:      DefaultRingSize,
		threads:       DefaultThreadCount,
		fenceTimeout:  DefaultFenceTimeout,
		cacheCapacity: passcache.DefaultCapacity,
	}
}

// DefaultThreadCount returns GOMAXPROCS plus one for the goroutine driving
// the frame loop.
func DefaultThreadCount() int {
	return runtime.GOMAXPROCS(0) + 1
}

// WithRingSize sets the number of frames that may be in flight on the GPU.
// Values below 2 make NewDevice fail with ErrInvalidRingSize.
func WithRingSize(n int) Option {
	return func(o *options) {
		o.ringSize = n
	}
}

// WithThreadCount sets the oracle consulted at every frame start for the
// number of goroutines that may record concurrently. Every goroutine that
// touches a Worker counts, including the one calling EndFrame.
//
// Growing the count takes effect at the next frame of each ring slot.
func WithThreadCount(fn func() int) Option {
	return func(o *options) {
		if fn != nil {
			o.threads = fn
		}
	}
}

// WithFenceTimeout bounds the wait for a reused ring slot.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithCacheCapacity sets the number of render passes kept by the pass
// cache across frames.
func WithCacheCapacity(n int) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithDebugLabels controls whether the device attaches debug labels to every
// pool, fence and semaphore it creates. Backends that support labels show
// them in GPU debuggers.
func WithDebugLabels(enabled bool) Option {
	return func(o *options) {
		o.debugLabels = enabled
	}
}
