package main

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuframe/backend/software"
	"github.com/gogpu/gpuframe/backend/wgpu"
	"github.com/gogpu/gpuframe/gpucore"
)

const targetSize = 256

// harness adapts one backend to the simulation: it creates the render
// target, the per-frame resources and records draws.
type harness interface {
	Backend() gpucore.Backend
	NewTarget(handle uint64) (gpucore.Target, gpucore.Destroyable, error)
	NewResource(frame uint64, i int) (gpucore.DeferredObject, error)
	Draw(rec gpucore.CommandRecorder, pass gpucore.RenderPass, i int) error
	// Upload records a transfer into rec and returns the staging object,
	// which the caller destroys once the submission completed.
	Upload(rec gpucore.CommandRecorder) (gpucore.Destroyable, error)
	Close()
}

func newHarness(cfg config) (harness, error) {
	switch cfg.Backend {
	case "software":
		return &softwareHarness{b: software.New(software.WithLatency(time.Duration(cfg.GPULatency)))}, nil
	case "noop":
		b, err := wgpu.Open(gputypes.BackendEmpty)
		if err != nil {
			return nil, err
		}
		return &halHarness{b: b}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

type softwareHarness struct {
	b *software.Backend
}

func (h *softwareHarness) Backend() gpucore.Backend { return h.b }

func (h *softwareHarness) NewTarget(handle uint64) (gpucore.Target, gpucore.Destroyable, error) {
	t := h.b.NewTarget(handle)
	return t, t, nil
}

var churnKinds = []gpucore.Kind{gpucore.KindBuffer, gpucore.KindTexture, gpucore.KindSampler, gpucore.KindResourceBindings}

func (h *softwareHarness) NewResource(_ uint64, i int) (gpucore.DeferredObject, error) {
	kind := churnKinds[i%len(churnKinds)]
	return gpucore.Defer(kind, h.b.NewResource(kind)), nil
}

func (h *softwareHarness) Draw(rec gpucore.CommandRecorder, _ gpucore.RenderPass, i int) error {
	return rec.(*software.Recorder).Record(fmt.Sprintf("draw %d", i))
}

func (h *softwareHarness) Upload(rec gpucore.CommandRecorder) (gpucore.Destroyable, error) {
	res := h.b.NewResource(gpucore.KindBuffer)
	return res, res.Use(rec)
}

func (h *softwareHarness) Close() {}

type halHarness struct {
	b *wgpu.Backend
}

func (h *halHarness) Backend() gpucore.Backend { return h.b }

func (h *halHarness) NewTarget(handle uint64) (gpucore.Target, gpucore.Destroyable, error) {
	t, err := h.b.NewTarget(handle, targetSize, targetSize, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

const churnShader = `
@vertex
fn main() -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
`

func (h *halHarness) NewResource(frame uint64, i int) (gpucore.DeferredObject, error) {
	label := fmt.Sprintf("frame %d resource %d", frame, i)
	if i == 0 {
		m, err := h.b.NewShaderModule(label, churnShader)
		if err != nil {
			return gpucore.DeferredObject{}, err
		}
		return gpucore.Defer(gpucore.KindShader, m), nil
	}
	buf, err := h.b.NewBuffer(label, 1024, gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		return gpucore.DeferredObject{}, err
	}
	return gpucore.Defer(gpucore.KindBuffer, buf), nil
}

func (h *halHarness) Draw(rec gpucore.CommandRecorder, pass gpucore.RenderPass, i int) error {
	enc, err := rec.(*wgpu.Recorder).ContinuePass(pass.(*wgpu.RenderPass))
	if err != nil {
		return err
	}
	enc.Draw(3, 1, uint32(i)*3, 0)
	return nil
}

func (h *halHarness) Upload(rec gpucore.CommandRecorder) (gpucore.Destroyable, error) {
	buf, err := h.b.NewBuffer("upload", 4096, gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	rec.(*wgpu.Recorder).Encoder().ClearBuffer(buf.HAL(), 0, buf.Size())
	return buf, nil
}

func (h *halHarness) Close() { h.b.Close() }
