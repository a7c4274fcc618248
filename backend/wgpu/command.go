package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/gpucore"
)

// CommandPool owns the command encoders of its recorders.
type CommandPool struct {
	backend   *Backend
	label     string
	recorders []*Recorder
}

// NewRecorder implements gpucore.CommandPool.
func (p *CommandPool) NewRecorder(level gpucore.Level) (gpucore.CommandRecorder, error) {
	enc, err := p.backend.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: p.label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	r := &Recorder{pool: p, encoder: enc, level: level}
	p.recorders = append(p.recorders, r)
	return r, nil
}

// Reset implements gpucore.CommandPool. Every command buffer produced by the
// pool's recorders is freed.
func (p *CommandPool) Reset() error {
	for _, r := range p.recorders {
		r.reset()
	}
	return nil
}

// Destroy implements gpucore.Destroyable.
func (p *CommandPool) Destroy() {
	for _, r := range p.recorders {
		r.reset()
		r.encoder.Destroy()
	}
	p.recorders = nil
}

// Recorder records into a HAL command encoder. A recorder's work is a
// sequence of command buffers: one per encoding of its own, interleaved
// with the command buffers of executed secondaries.
type Recorder struct {
	pool      *CommandPool
	encoder   hal.CommandEncoder
	level     gpucore.Level
	recording bool

	// segments is the submission order; owned are the buffers this
	// recorder's encoder produced and must free.
	segments []hal.CommandBuffer
	owned    []hal.CommandBuffer

	pass *openPass
}

// openPass is a render pass begun on the recorder and not yet ended.
type openPass struct {
	rp      *RenderPass
	encoder hal.RenderPassEncoder
}

// Encoder returns the HAL command encoder. It is only valid while recording
// and outside a render pass.
func (r *Recorder) Encoder() hal.CommandEncoder {
	return r.encoder
}

// RenderPassEncoder returns the encoder of the open render pass, or nil.
func (r *Recorder) RenderPassEncoder() hal.RenderPassEncoder {
	if r.pass == nil {
		return nil
	}
	return r.pass.encoder
}

// ContinuePass resumes rp in a secondary recorder so that its draws land
// inside the pass the primary began. The pass ends with the recorder.
func (r *Recorder) ContinuePass(rp *RenderPass) (hal.RenderPassEncoder, error) {
	if r.level != gpucore.LevelSecondary {
		return nil, gpucore.ErrRecorderLevel
	}
	if !r.recording {
		return nil, gpucore.ErrNotRecording
	}
	if r.pass != nil {
		if r.pass.rp == rp {
			return r.pass.encoder, nil
		}
		r.pass.encoder.End()
	}
	r.pass = &openPass{rp: rp, encoder: r.encoder.BeginRenderPass(rp.resumed)}
	return r.pass.encoder, nil
}

// Begin implements gpucore.CommandRecorder.
func (r *Recorder) Begin() error {
	if r.recording {
		return gpucore.ErrAlreadyRecording
	}
	if err := r.encoder.BeginEncoding(r.pool.label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	r.recording = true
	return nil
}

// End implements gpucore.CommandRecorder.
func (r *Recorder) End() error {
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	r.recording = false
	if r.pass != nil {
		r.pass.encoder.End()
		r.pass = nil
	}
	return r.cut()
}

// cut ends the current encoding and appends its command buffer.
func (r *Recorder) cut() error {
	cb, err := r.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	r.segments = append(r.segments, cb)
	r.owned = append(r.owned, cb)
	return nil
}

// Reset implements gpucore.CommandRecorder.
func (r *Recorder) Reset() error {
	r.reset()
	return nil
}

func (r *Recorder) reset() {
	if r.recording {
		r.encoder.DiscardEncoding()
		r.recording = false
	}
	if len(r.owned) > 0 {
		r.encoder.ResetAll(r.owned)
	}
	r.segments = nil
	r.owned = nil
	r.pass = nil
}

// Recording implements gpucore.CommandRecorder.
func (r *Recorder) Recording() bool { return r.recording }

// Level implements gpucore.CommandRecorder.
func (r *Recorder) Level() gpucore.Level { return r.level }

// ExecuteSecondary implements gpucore.CommandRecorder.
func (r *Recorder) ExecuteSecondary(secondaries []gpucore.CommandRecorder) error {
	if r.level != gpucore.LevelPrimary {
		return gpucore.ErrRecorderLevel
	}
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	if len(secondaries) == 0 {
		return nil
	}

	secs := make([]*Recorder, len(secondaries))
	for i, s := range secondaries {
		sec, ok := s.(*Recorder)
		if !ok {
			return gpucore.ErrForeignObject
		}
		if sec.level != gpucore.LevelSecondary {
			return gpucore.ErrRecorderLevel
		}
		if sec.recording {
			return fmt.Errorf("wgpu: secondary still recording: %w", gpucore.ErrAlreadyRecording)
		}
		secs[i] = sec
	}

	pass := r.pass
	if pass != nil {
		pass.encoder.End()
		r.pass = nil
	}
	if err := r.cut(); err != nil {
		return err
	}
	for _, sec := range secs {
		r.segments = append(r.segments, sec.segments...)
	}
	if err := r.encoder.BeginEncoding(r.pool.label); err != nil {
		r.recording = false
		return fmt.Errorf("wgpu: resume encoding: %w", err)
	}
	if pass != nil {
		r.pass = &openPass{rp: pass.rp, encoder: r.encoder.BeginRenderPass(pass.rp.resumed)}
	}
	return nil
}

// commandBuffers returns the recorded work in submission order.
func (r *Recorder) commandBuffers() []hal.CommandBuffer {
	return r.segments
}

// resumeOps turns clear operations into loads so that a pass resumed after
// a split keeps what was drawn before it.
func resumeOps(load gputypes.LoadOp) gputypes.LoadOp {
	if load == gputypes.LoadOpClear {
		return gputypes.LoadOpLoad
	}
	return load
}

var (
	_ gpucore.CommandPool     = (*CommandPool)(nil)
	_ gpucore.CommandRecorder = (*Recorder)(nil)
)
