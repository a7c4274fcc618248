package gpucore

import "time"

// Level distinguishes primary recorders, which are submitted to a queue, from
// secondary recorders, which are executed inside a primary.
type Level uint8

const (
	// LevelPrimary recorders are submitted directly to a queue.
	LevelPrimary Level = iota

	// LevelSecondary recorders are appended to a primary recorder.
	LevelSecondary
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelPrimary:
		return "primary"
	case LevelSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Destroyable is implemented by every GPU object whose lifetime the scheduler
// manages. Destroy is called exactly once.
type Destroyable interface {
	Destroy()
}

// CommandRecorder is an externally synchronized command buffer.
//
// A recorder belongs to exactly one [CommandPool] and is never shared between
// goroutines within a frame.
type CommandRecorder interface {
	// Begin starts recording. Returns ErrAlreadyRecording if recording.
	Begin() error

	// End finishes recording. Returns ErrNotRecording if not recording.
	End() error

	// Reset discards recorded work. Resetting the owning pool has the same
	// effect on every recorder of the pool.
	Reset() error

	// Recording reports whether Begin was called without a matching End.
	Recording() bool

	// Level reports whether the recorder is primary or secondary.
	Level() Level

	// ExecuteSecondary appends the recorded work of the given secondary
	// recorders, in order. The receiver must be a recording primary and the
	// secondaries must have ended.
	ExecuteSecondary(secondaries []CommandRecorder) error
}

// CommandPool allocates recorders. Pools are reset as a block.
type CommandPool interface {
	Destroyable

	// NewRecorder allocates a recorder of the given level from the pool.
	NewRecorder(level Level) (CommandRecorder, error)

	// Reset resets every recorder allocated from the pool.
	Reset() error
}

// Fence is a GPU-to-CPU completion signal. Fences are created signaled.
type Fence interface {
	Destroyable

	// Wait blocks until the fence signals or the timeout expires.
	// It reports false on timeout.
	Wait(timeout time.Duration) (bool, error)

	// Reset returns the fence to the unsignaled state.
	Reset() error

	// Signaled reports the fence state without blocking.
	Signaled() (bool, error)
}

// Semaphore orders GPU work between batches without CPU involvement.
type Semaphore interface {
	Destroyable
}

// SubmitBatch is one ordered group of primary recorders.
type SubmitBatch struct {
	// Recorders are executed in order.
	Recorders []CommandRecorder

	// Wait lists semaphores that must be signaled before the batch starts.
	Wait []Semaphore

	// Signal lists semaphores signaled when the batch completes.
	Signal []Semaphore
}

// Queue accepts command submissions. Implementations need not be safe for
// concurrent use; the scheduler serializes every call.
type Queue interface {
	// Submit enqueues batches in order. If fence is non-nil it signals after
	// the batches, and everything submitted before them, complete.
	Submit(batches []SubmitBatch, fence Fence) error
}

// RenderPass is a heavyweight object built for one attachment configuration.
// A render pass must begin and end within a single primary recorder.
type RenderPass interface {
	Destroyable

	// Begin starts the pass in rec, applying load operations.
	Begin(rec CommandRecorder) error

	// End finishes the pass in rec, applying store operations.
	End(rec CommandRecorder) error
}

// Backend creates the GPU objects the scheduler orchestrates.
type Backend interface {
	// NewCommandPool creates a pool for one recording goroutine.
	NewCommandPool(label string) (CommandPool, error)

	// NewFence creates a signaled fence.
	NewFence(label string) (Fence, error)

	// NewSemaphore creates a GPU-side ordering semaphore.
	NewSemaphore(label string) (Semaphore, error)

	// NewRenderPass builds a render pass for desc.
	NewRenderPass(desc *RenderPassDescriptor) (RenderPass, error)

	// Queue returns the submission queue.
	Queue() Queue

	// WaitIdle blocks until the GPU finished all submitted work.
	WaitIdle() error
}

// TimestampWriter is implemented by recorders that can write GPU timestamps.
// The returned query resolves once the recorder's submission has retired.
type TimestampWriter interface {
	WriteTimestamp() (TimestampQuery, error)
}

// TimestampQuery is a pending GPU timestamp.
type TimestampQuery interface {
	// Result returns the timestamp in nanoseconds. ok is false while the
	// timestamp is unavailable.
	Result() (ns uint64, ok bool)
}
