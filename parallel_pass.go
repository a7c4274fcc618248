package gpuframe

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/passcache"
)

// ErrPassEnded is returned when recording into a parallel pass that has
// already ended.
var ErrPassEnded = errors.New("gpuframe: parallel pass already ended")

// ParallelPass is a render pass recorded by several goroutines into
// secondary recorders and executed into one primary draw recorder.
//
// BeginParallelPass and End run on the goroutine driving the frame; Recorder
// is called from the recording goroutines in between.
type ParallelPass struct {
	owner   *Worker
	entry   *passcache.Entry
	primary gpucore.CommandRecorder
	block   int
	ended   bool
}

// BeginParallelPass begins a render pass compatible with desc in w's draw
// recorder and reserves a block of secondary recorders for it.
func (w *Worker) BeginParallelPass(desc *gpucore.RenderPassDescriptor) (*ParallelPass, error) {
	primary, err := w.DrawBuffer()
	if err != nil {
		return nil, err
	}
	entry, err := w.AcquireRenderPass(desc)
	if err != nil {
		return nil, err
	}
	if err := entry.Pass().Begin(primary); err != nil {
		w.ReleaseRenderPass(entry)
		return nil, fmt.Errorf("gpuframe: begin parallel pass: %w", err)
	}
	return &ParallelPass{
		owner:   w,
		entry:   entry,
		primary: primary,
		block:   w.dev.ReserveParallelBlock(),
	}, nil
}

// Recorder returns w's secondary recorder of the pass.
func (p *ParallelPass) Recorder(w *Worker) (gpucore.CommandRecorder, error) {
	if p.ended {
		return nil, ErrPassEnded
	}
	return w.SecondaryBuffer(p.block)
}

// RenderPass returns the cached render pass being recorded.
func (p *ParallelPass) RenderPass() gpucore.RenderPass {
	return p.entry.Pass()
}

// Block returns the parallel block id of the pass.
func (p *ParallelPass) Block() int {
	return p.block
}

// End executes every secondary recorder of the pass in thread order, ends
// the render pass and releases it to the pass cache.
func (p *ParallelPass) End() error {
	if p.ended {
		return ErrPassEnded
	}
	p.ended = true
	defer p.owner.ReleaseRenderPass(p.entry)

	execErr := p.owner.dev.ExecuteSecondaryBlock(p.block, p.primary)
	endErr := p.entry.Pass().End(p.primary)
	return errors.Join(execErr, endErr)
}
