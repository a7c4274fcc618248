package wgpu_test

import (
	"testing"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/backend/wgpu"
	"github.com/gogpu/gpuframe/gpucore"
)

func TestDevice_FramesOnHAL(t *testing.T) {
	b, err := wgpu.Open(gputypes.BackendEmpty)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	const workers = 3
	d, err := gpuframe.NewDevice(b, gpuframe.WithThreadCount(func() int { return workers + 1 }))
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	disp := gpuframe.NewDispatcher(d, workers)
	defer disp.Close()

	target, err := b.NewTarget(1, 128, 128, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	desc := &gpucore.RenderPassDescriptor{
		Width:       128,
		Height:      128,
		SampleCount: 1,
		Colors: []gpucore.Attachment{{
			Target:  target,
			Format:  gputypes.TextureFormatBGRA8Unorm,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
		}},
	}

	for frame := range 6 {
		fw := d.FrameWorker()
		buf, err := b.NewBuffer("uniforms", 256, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
		if err != nil {
			t.Fatalf("frame %d: NewBuffer() error = %v", frame, err)
		}
		if err := buf.Write(0, make([]byte, 64)); err != nil {
			t.Fatalf("frame %d: Write() error = %v", frame, err)
		}

		pass, err := fw.BeginParallelPass(desc)
		if err != nil {
			t.Fatalf("frame %d: BeginParallelPass() error = %v", frame, err)
		}
		rp := pass.RenderPass().(*wgpu.RenderPass)
		disp.For(8, func(w *gpuframe.Worker, i int) {
			rec, err := pass.Recorder(w)
			if err != nil {
				t.Errorf("Recorder() error = %v", err)
				return
			}
			enc, err := rec.(*wgpu.Recorder).ContinuePass(rp)
			if err != nil {
				t.Errorf("ContinuePass() error = %v", err)
				return
			}
			enc.Draw(3, 1, 0, 0)
		})
		if err := pass.End(); err != nil {
			t.Fatalf("frame %d: End() error = %v", frame, err)
		}

		fw.ScheduleDestruction(gpucore.Defer(gpucore.KindBuffer, buf))
		if err := d.EndFrame(); err != nil {
			t.Fatalf("frame %d: EndFrame() error = %v", frame, err)
		}
	}

	if d.Lost() {
		t.Error("device lost on the noop HAL")
	}
	d.FrameWorker().ScheduleDestruction(gpucore.Defer(gpucore.KindTexture, target))
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
